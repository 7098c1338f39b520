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

// Package eventlog defines the append-only, per-instance ordered event
// log (C1) and its active-instance index. Implementations must provide
// an atomic compare-and-append keyed on the instance's expected
// counter: this is the system's sole optimistic-concurrency primitive.
package eventlog

import (
	"context"

	"github.com/workflowcore/workflowcore/internal/model"
)

// Store is the contract every event-log backend must satisfy.
type Store interface {
	// Append adds ev to instance's log iff the log's current head
	// counter equals expectedCounter (0 means "log must be empty").
	// On success it also updates the active-instance index in the same
	// atomic operation. Returns *coreerrors.OptimisticConflictError on
	// a counter mismatch.
	Append(ctx context.Context, instance model.WorkflowInstance, expectedCounter int64, ev model.Event) error

	// Events returns every event for instance in counter order.
	Events(ctx context.Context, instance model.WorkflowInstance) ([]model.Event, error)

	// EventsByTrigger returns every event whose TriggerID matches
	// triggerID, across whatever instance they were appended to. Used
	// by the backfill status endpoint to reconstruct historical
	// outcomes keyed by triggerId rather than WorkflowInstance.
	EventsByTrigger(ctx context.Context, triggerID string) ([]model.Event, error)

	// ActiveIndex returns every WorkflowInstance currently believed
	// non-terminal, with its last known counter and triggerId.
	ActiveIndex(ctx context.Context) ([]model.ActiveIndexEntry, error)

	// RemoveFromIndex drops instance from the active-instance index,
	// called once its RunState reaches a terminal state.
	RemoveFromIndex(ctx context.Context, instance model.WorkflowInstance) error
}
