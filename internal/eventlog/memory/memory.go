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

// Package memory is an in-process eventlog.Store used by tests and
// single-process/development mode.
package memory

import (
	"context"
	"sync"

	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

var _ eventlog.Store = (*Store)(nil)

type indexRow struct {
	counter   int64
	triggerID string
}

// Store is a mutex-protected, in-memory eventlog.Store.
type Store struct {
	mu     sync.Mutex
	events map[model.WorkflowInstance][]model.Event
	index  map[model.WorkflowInstance]indexRow
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events: make(map[model.WorkflowInstance][]model.Event),
		index:  make(map[model.WorkflowInstance]indexRow),
	}
}

func (s *Store) Append(ctx context.Context, instance model.WorkflowInstance, expectedCounter int64, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[instance]
	var head int64
	if len(log) > 0 {
		head = log[len(log)-1].Counter
	}
	if head != expectedCounter {
		return &coreerrors.OptimisticConflictError{
			Instance:        instance.String(),
			ExpectedCounter: expectedCounter,
			ActualCounter:   head,
		}
	}

	s.events[instance] = append(log, ev)
	s.index[instance] = indexRow{counter: ev.Counter, triggerID: ev.TriggerID}
	return nil
}

func (s *Store) Events(ctx context.Context, instance model.WorkflowInstance) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[instance]
	out := make([]model.Event, len(log))
	copy(out, log)
	return out, nil
}

func (s *Store) EventsByTrigger(ctx context.Context, triggerID string) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Event
	for _, log := range s.events {
		for _, ev := range log {
			if ev.TriggerID == triggerID {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (s *Store) ActiveIndex(ctx context.Context) ([]model.ActiveIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ActiveIndexEntry, 0, len(s.index))
	for instance, row := range s.index {
		out = append(out, model.ActiveIndexEntry{Instance: instance, Counter: row.counter, TriggerID: row.triggerID})
	}
	return out, nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, instance model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.index, instance)
	return nil
}
