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

// Package trigger runs the periodic scan that fires a workflow's
// natural (schedule-driven) executions: whenever wall-clock time passes
// a workflow's next aligned partition instant, it emits a
// triggerExecution event and atomically advances the workflow's cursor
// so two ticks (or two replicas) racing on the same workflow cannot
// both fire it.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/workflowcore/internal/coremetrics"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/store"
	"github.com/workflowcore/workflowcore/pkg/schedule"
)

// Dispatcher feeds a triggerExecution event into an instance's state
// machine. statemanager.Manager satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (model.RunState, error)
}

// Manager periodically scans every enabled workflow for a due natural
// trigger.
type Manager struct {
	Workflows  store.WorkflowStore
	Dispatcher Dispatcher
	Logger     *slog.Logger

	now      func() time.Time
	lastTick atomic.Pointer[time.Time]
}

// LastTick returns the wall-clock time the most recent tick completed,
// the zero value if no tick has run yet.
func (m *Manager) LastTick() time.Time {
	t := m.lastTick.Load()
	if t == nil {
		return time.Time{}
	}
	return *t
}

// New returns a ready Manager.
func New(workflows store.WorkflowStore, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{Workflows: workflows, Dispatcher: dispatcher, Logger: logger, now: time.Now}
}

// Run ticks every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && m.Logger != nil {
				m.Logger.Error("trigger manager tick failed", "error", err)
			}
			now := m.clock()
			m.lastTick.Store(&now)
		}
	}
}

// Tick scans every enabled workflow once.
func (m *Manager) Tick(ctx context.Context) error {
	workflows, err := m.Workflows.ListWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}

	for _, wf := range workflows {
		if !wf.Enabled || !wf.Configured() {
			continue
		}
		if err := m.fireIfDue(ctx, wf); err != nil && m.Logger != nil {
			m.Logger.Error("trigger manager could not fire workflow", "workflow", string(wf.ID), "error", err)
		}
	}
	return nil
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *Manager) fireIfDue(ctx context.Context, wf *model.Workflow) error {
	if wf.NextNaturalTrigger.IsZero() {
		first, err := schedule.FirstAlignedAtOrAfter(wf.Schedule, m.clock())
		if err != nil {
			return err
		}
		return m.Workflows.AdvanceNextNaturalTrigger(ctx, wf.ID, *wf, model.Workflow{NextNaturalTrigger: first})
	}

	if m.clock().Before(wf.NextNaturalTrigger) {
		return nil
	}

	next, err := schedule.NextInstant(wf.Schedule, wf.NextNaturalTrigger)
	if err != nil {
		return err
	}

	expected := *wf
	if err := m.Workflows.AdvanceNextNaturalTrigger(ctx, wf.ID, expected, model.Workflow{NextNaturalTrigger: next}); err != nil {
		// Another tick (or replica) already advanced this workflow; not
		// an error, just lost the race to fire it.
		return nil
	}

	instance := model.WorkflowInstance{WorkflowID: wf.ID, Parameter: schedule.Parameter(wf.Schedule, wf.NextNaturalTrigger)}
	triggerID := "natural-" + uuid.NewString()

	if _, err := m.Dispatcher.Dispatch(ctx, model.Event{
		Instance:  instance,
		Type:      model.EventTriggerExecution,
		TriggerID: triggerID,
	}); err != nil {
		return fmt.Errorf("dispatch natural trigger for %s: %w", instance, err)
	}

	coremetrics.NaturalTriggersEmitted.WithLabelValues(string(wf.ID)).Inc()
	return nil
}
