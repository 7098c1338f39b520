// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redislog is the production eventlog.Store: each
// WorkflowInstance maps to one Redis stream key holding its append-only
// event log, plus companion hashes (instance to counter, instance to
// triggerId) that serve as the active-instance index. The append-then-index-update pair is made
// atomic with a Lua script so a crash mid-append can never leave the
// index pointing past the durable log.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

const (
	streamKeyPrefix = "workflowcore:log:"
	activeIndexKey  = "workflowcore:active-index"
	triggerIndexKey = "workflowcore:trigger-index"
)

var _ eventlog.Store = (*Store)(nil)

// appendScript performs the compare-and-append atomically: it reads the
// stream's last entry's "counter" field, compares it to the expected
// counter supplied by the caller, and only then XADDs the new event and
// updates the active-instance index hash.
var appendScript = redis.NewScript(`
local streamKey = KEYS[1]
local indexKey = KEYS[2]
local triggerIndexKey = KEYS[3]
local expected = tonumber(ARGV[1])
local instance = ARGV[2]
local payload = ARGV[3]
local counter = ARGV[4]
local triggerID = ARGV[5]

local last = redis.call('XREVRANGE', streamKey, '+', '-', 'COUNT', 1)
local head = 0
if #last > 0 then
	local fields = last[1][2]
	for i = 1, #fields, 2 do
		if fields[i] == 'counter' then
			head = tonumber(fields[i+1])
		end
	end
end

if head ~= expected then
	return {err = 'conflict:' .. tostring(head)}
end

redis.call('XADD', streamKey, '*', 'counter', counter, 'payload', payload)
redis.call('HSET', indexKey, instance, counter)
redis.call('HSET', triggerIndexKey, instance, triggerID)
return 'OK'
`)

// Store is a Redis Streams-backed eventlog.Store.
type Store struct {
	client *redis.Client
}

// New wraps an existing go-redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func streamKey(instance model.WorkflowInstance) string {
	return streamKeyPrefix + instance.String()
}

func (s *Store) Append(ctx context.Context, instance model.WorkflowInstance, expectedCounter int64, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = appendScript.Run(ctx, s.client,
		[]string{streamKey(instance), activeIndexKey, triggerIndexKey},
		expectedCounter, instance.String(), string(payload), ev.Counter, ev.TriggerID,
	).Result()
	if err == nil {
		return nil
	}

	var head int64
	if n, scanErr := fmt.Sscanf(err.Error(), "conflict:%d", &head); scanErr == nil && n == 1 {
		return &coreerrors.OptimisticConflictError{
			Instance:        instance.String(),
			ExpectedCounter: expectedCounter,
			ActualCounter:   head,
		}
	}
	return &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
}

func (s *Store) Events(ctx context.Context, instance model.WorkflowInstance) ([]model.Event, error) {
	entries, err := s.client.XRange(ctx, streamKey(instance), "-", "+").Result()
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
	}
	return decodeEntries(entries)
}

func (s *Store) EventsByTrigger(ctx context.Context, triggerID string) ([]model.Event, error) {
	instances, err := s.client.HGetAll(ctx, triggerIndexKey).Result()
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
	}

	var out []model.Event
	for key, tid := range instances {
		if tid != triggerID {
			continue
		}
		entries, err := s.client.XRange(ctx, streamKeyPrefix+key, "-", "+").Result()
		if err != nil {
			return nil, &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
		}
		events, err := decodeEntries(entries)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (s *Store) ActiveIndex(ctx context.Context) ([]model.ActiveIndexEntry, error) {
	counters, err := s.client.HGetAll(ctx, activeIndexKey).Result()
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
	}
	triggers, err := s.client.HGetAll(ctx, triggerIndexKey).Result()
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
	}

	out := make([]model.ActiveIndexEntry, 0, len(counters))
	for key, counterStr := range counters {
		counter, err := strconv.ParseInt(counterStr, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.ActiveIndexEntry{
			Instance:  parseInstance(key),
			Counter:   counter,
			TriggerID: triggers[key],
		})
	}
	return out, nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, instance model.WorkflowInstance) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, activeIndexKey, instance.String())
	pipe.HDel(ctx, triggerIndexKey, instance.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return &coreerrors.StorageUnavailableError{Store: "event-log", Cause: err}
	}
	return nil
}

func decodeEntries(entries []redis.XMessage) ([]model.Event, error) {
	out := make([]model.Event, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseInstance(key string) model.WorkflowInstance {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '#' {
			return model.WorkflowInstance{WorkflowID: model.WorkflowId(key[:i]), Parameter: key[i+1:]}
		}
	}
	return model.WorkflowInstance{Parameter: key}
}
