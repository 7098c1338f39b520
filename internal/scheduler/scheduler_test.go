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

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/eventlog/memory"
	"github.com/workflowcore/workflowcore/internal/model"
)

var instance = model.WorkflowInstance{WorkflowID: "wf", Parameter: "2020-01-01"}

type fakeStates struct {
	states map[model.WorkflowInstance]model.RunState
}

func (f *fakeStates) RunState(ctx context.Context, instance model.WorkflowInstance) (model.RunState, error) {
	rs, ok := f.states[instance]
	if !ok {
		return model.RunState{}, fmt.Errorf("not found")
	}
	return rs, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []model.Event
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev model.Event) (model.RunState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return model.RunState{}, nil
}

func (d *fakeDispatcher) snapshot() []model.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Event, len(d.events))
	copy(out, d.events)
	return out
}

type fakeTTLs struct{ ttl time.Duration }

func (f *fakeTTLs) TTLFor(state string) (time.Duration, error) { return f.ttl, nil }

func TestTickDispatchesTimeoutForStaleState(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, instance, 0, model.Event{Instance: instance, Type: model.EventTriggerExecution, Counter: 1, TriggerID: "t1"}))

	states := &fakeStates{states: map[model.WorkflowInstance]model.RunState{
		instance: {Instance: instance, State: model.StateQueued, Timestamp: time.Now().Add(-time.Hour)},
	}}
	dispatcher := &fakeDispatcher{}
	s := New(log, states, dispatcher, &fakeTTLs{ttl: time.Minute}, nil)

	require.NoError(t, s.Tick(ctx))
	events := dispatcher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTimeout, events[0].Type)
}

func TestTickSkipsFreshState(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, instance, 0, model.Event{Instance: instance, Type: model.EventTriggerExecution, Counter: 1}))

	states := &fakeStates{states: map[model.WorkflowInstance]model.RunState{
		instance: {Instance: instance, State: model.StateQueued, Timestamp: time.Now()},
	}}
	dispatcher := &fakeDispatcher{}
	s := New(log, states, dispatcher, &fakeTTLs{ttl: time.Hour}, nil)

	require.NoError(t, s.Tick(ctx))
	assert.Empty(t, dispatcher.snapshot())
}

func TestTickDispatchesRetryWhenBackoffElapsed(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, instance, 0, model.Event{Instance: instance, Type: model.EventTriggerExecution, Counter: 1}))

	states := &fakeStates{states: map[model.WorkflowInstance]model.RunState{
		instance: {
			Instance:  instance,
			State:     model.StateAwaitingRetry,
			Timestamp: time.Now().Add(-time.Minute),
			Data:      model.StateData{RetryDelayMillis: 1000},
		},
	}}
	dispatcher := &fakeDispatcher{}
	s := New(log, states, dispatcher, &fakeTTLs{ttl: time.Hour}, nil)

	require.NoError(t, s.Tick(ctx))
	events := dispatcher.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventRetry, events[0].Type)
}

func TestTickIgnoresTerminalStates(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, instance, 0, model.Event{Instance: instance, Type: model.EventTriggerExecution, Counter: 1}))

	states := &fakeStates{states: map[model.WorkflowInstance]model.RunState{
		instance: {Instance: instance, State: model.StateDone, Timestamp: time.Now().Add(-time.Hour)},
	}}
	dispatcher := &fakeDispatcher{}
	s := New(log, states, dispatcher, &fakeTTLs{ttl: time.Millisecond}, nil)

	require.NoError(t, s.Tick(ctx))
	assert.Empty(t, dispatcher.snapshot())
}
