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

// Package store defines the transactional document-store contract for
// entities that need read-modify-write semantics: Workflows, Backfills,
// the per-workflow nextNaturalTrigger counter, and the global runtime
// submission rate.
package store

import (
	"context"

	"github.com/workflowcore/workflowcore/internal/model"
)

// WorkflowStore persists Workflow definitions.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id model.WorkflowId) (*model.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*model.Workflow, error)
	PutWorkflow(ctx context.Context, wf *model.Workflow) error

	// AdvanceNextNaturalTrigger atomically sets workflow id's
	// NextNaturalTrigger to next, but only if its current value equals
	// expected. Used by the trigger manager to avoid double-firing a
	// partition when two tick goroutines race.
	AdvanceNextNaturalTrigger(ctx context.Context, id model.WorkflowId, expected, next model.Workflow) error
}

// BackfillStore persists Backfill records and updates them inside a
// transaction that holds the backfill row. The transaction covers only
// that row: the backfill engine appends the trigger event to the event
// log before, and outside, the cursor update, so a crash between the two
// leaves the cursor unadvanced and the next pass dispatches the same
// partition's trigger again.
type BackfillStore interface {
	GetBackfill(ctx context.Context, id string) (*model.Backfill, error)
	ListBackfills(ctx context.Context, workflowID model.WorkflowId, showAll bool) ([]*model.Backfill, error)
	CreateBackfill(ctx context.Context, b *model.Backfill) error
	UpdateBackfill(ctx context.Context, b *model.Backfill) error

	// WithBackfillTx runs fn with a freshly loaded Backfill inside a
	// storage transaction; fn's returned Backfill is persisted before
	// the transaction commits, or nothing is persisted if fn returns
	// an error.
	WithBackfillTx(ctx context.Context, id string, fn func(ctx context.Context, b *model.Backfill) (*model.Backfill, error)) error
}

// RuntimeConfigStore persists the global submission rate, refreshed
// periodically by the submission rate limiter.
type RuntimeConfigStore interface {
	GetSubmissionRate(ctx context.Context) (permitsPerSecond float64, err error)
}

// Store composes the full document-store contract.
type Store interface {
	WorkflowStore
	BackfillStore
	RuntimeConfigStore
}
