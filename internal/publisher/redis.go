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

// Package publisher delivers terminal-state notifications to external
// systems. RedisPublisher publishes to a Redis pub/sub channel, reusing
// the same client the event log's Redis Streams backend connects with.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workflowcore/workflowcore/internal/model"
)

// RedisPublisher publishes a JSON notification to a single Redis
// pub/sub channel for every terminal transition.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedis returns a RedisPublisher publishing to channel over client.
func NewRedis(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

type notification struct {
	WorkflowID string    `json:"workflowId"`
	Parameter  string    `json:"parameter"`
	State      string    `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publish satisfies handlers.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, instance model.WorkflowInstance, state model.State) error {
	payload, err := json.Marshal(notification{
		WorkflowID: string(instance.WorkflowID),
		Parameter:  instance.Parameter,
		State:      string(state),
		Timestamp:  time.Now(),
	})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
