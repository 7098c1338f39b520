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

// Package memory is an in-process store.Store used by tests and
// single-process/development mode.
package memory

import (
	"context"
	"sync"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/store"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

var _ store.Store = (*Store)(nil)

// Store is a mutex-protected, in-memory store.Store.
type Store struct {
	mu              sync.Mutex
	workflows       map[model.WorkflowId]*model.Workflow
	backfills       map[string]*model.Backfill
	submissionRate  float64
}

// New returns a Store with the given default submission rate.
func New(submissionRate float64) *Store {
	return &Store{
		workflows:      make(map[model.WorkflowId]*model.Workflow),
		backfills:      make(map[string]*model.Backfill),
		submissionRate: submissionRate,
	}
}

func (s *Store) GetWorkflow(ctx context.Context, id model.WorkflowId) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, &coreerrors.NotFoundError{Resource: "workflow", ID: string(id)}
	}
	cp := *wf
	return &cp, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		cp := *wf
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) PutWorkflow(ctx context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *Store) AdvanceNextNaturalTrigger(ctx context.Context, id model.WorkflowId, expected, next model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.workflows[id]
	if !ok {
		return &coreerrors.NotFoundError{Resource: "workflow", ID: string(id)}
	}
	if !current.NextNaturalTrigger.Equal(expected.NextNaturalTrigger) {
		return &coreerrors.ConflictError{Reason: "nextNaturalTrigger changed concurrently"}
	}
	cp := *current
	cp.NextNaturalTrigger = next.NextNaturalTrigger
	s.workflows[id] = &cp
	return nil
}

func (s *Store) GetBackfill(ctx context.Context, id string) (*model.Backfill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backfills[id]
	if !ok {
		return nil, &coreerrors.NotFoundError{Resource: "backfill", ID: id}
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBackfills(ctx context.Context, workflowID model.WorkflowId, showAll bool) ([]*model.Backfill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Backfill
	for _, b := range s.backfills {
		if workflowID != "" && b.WorkflowID != workflowID {
			continue
		}
		if !showAll && b.AllTriggered {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateBackfill(ctx context.Context, b *model.Backfill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backfills[b.ID]; exists {
		return &coreerrors.ConflictError{Reason: "backfill already exists: " + b.ID}
	}
	cp := *b
	s.backfills[b.ID] = &cp
	return nil
}

func (s *Store) UpdateBackfill(ctx context.Context, b *model.Backfill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backfills[b.ID]; !exists {
		return &coreerrors.NotFoundError{Resource: "backfill", ID: b.ID}
	}
	cp := *b
	s.backfills[b.ID] = &cp
	return nil
}

func (s *Store) WithBackfillTx(ctx context.Context, id string, fn func(ctx context.Context, b *model.Backfill) (*model.Backfill, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.backfills[id]
	if !ok {
		return &coreerrors.NotFoundError{Resource: "backfill", ID: id}
	}
	cp := *current
	updated, err := fn(ctx, &cp)
	if err != nil {
		return err
	}
	s.backfills[id] = updated
	return nil
}

// Ping always succeeds: the in-memory store has no external connection.
func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) GetSubmissionRate(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionRate, nil
}

// SetSubmissionRate updates the globally configured submission rate,
// exposed for tests and the runtime-config admin surface.
func (s *Store) SetSubmissionRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissionRate = rate
}
