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

// Package replay reconstructs a WorkflowInstance's current RunState by
// folding its durable event log through the state machine, from the
// implicit NEW base state. It is used at boot to rebuild the active-state
// map and whenever the state manager must recover from an optimistic
// conflict.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/statemachine"
)

// Replayer rebuilds RunState from a Store's durable event log.
type Replayer struct {
	log eventlog.Store
}

// New returns a Replayer reading from log.
func New(log eventlog.Store) *Replayer {
	return &Replayer{log: log}
}

// Replay loads every event recorded for instance and folds them through
// the state machine in order, starting from the implicit NEW state with
// zero StateData and counter 0. An instance with no recorded events
// replays to NEW/counter 0, the state of an instance that exists only as
// a Workflow definition and has never been triggered.
//
// An event that the state machine rejects as illegal for the state it
// was folded from indicates a corrupted or hand-edited log; Replay
// fails rather than silently skip it, since skipping would desync the
// replayed counter from the log's own event numbering.
func (r *Replayer) Replay(ctx context.Context, instance model.WorkflowInstance) (model.RunState, error) {
	events, err := r.log.Events(ctx, instance)
	if err != nil {
		return model.RunState{}, fmt.Errorf("load events for %s: %w", instance, err)
	}

	state := model.StateNew
	var data model.StateData
	var counter int64
	var timestamp time.Time

	for _, ev := range events {
		state, data, err = statemachine.Apply(instance, state, data, ev)
		if err != nil {
			return model.RunState{}, fmt.Errorf("replay %s at counter %d: %w", instance, ev.Counter, err)
		}
		counter = ev.Counter
		timestamp = ev.Timestamp
	}

	return model.RunState{
		Instance:  instance,
		State:     state,
		Data:      data,
		Timestamp: timestamp,
		Counter:   counter,
	}, nil
}

// ReplayAll rebuilds RunState for every instance present in the log's
// active index, the set the state manager must load into memory at
// boot before it can accept new events.
func (r *Replayer) ReplayAll(ctx context.Context) (map[model.WorkflowInstance]model.RunState, error) {
	index, err := r.log.ActiveIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active index: %w", err)
	}

	out := make(map[model.WorkflowInstance]model.RunState, len(index))
	for _, entry := range index {
		rs, err := r.Replay(ctx, entry.Instance)
		if err != nil {
			return nil, err
		}
		out[entry.Instance] = rs
	}
	return out, nil
}
