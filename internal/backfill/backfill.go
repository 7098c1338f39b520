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

// Package backfill implements bounded, replayable, monotonic replays of
// historical (or future, if explicitly allowed) schedule partitions. A
// backfill enumerates the aligned instants in [start, end) under its
// workflow's schedule and drives them through the state manager under
// a concurrency cap, a strictly-monotonic cursor, and a terminal halt.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/workflowcore/internal/coremetrics"
	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/replay"
	"github.com/workflowcore/workflowcore/internal/store"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
	"github.com/workflowcore/workflowcore/pkg/schedule"
)

// Dispatcher feeds a triggerExecution or halt event into an instance's
// state machine. statemanager.Manager satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (model.RunState, error)
}

// CreateInput is the validated request to create a Backfill.
type CreateInput struct {
	WorkflowID        model.WorkflowId
	Start             time.Time
	End               time.Time
	Concurrency       int
	Description       string
	Reverse           bool
	TriggerParameters map[string]string
	AllowFuture       bool
}

// InstanceStatus reports one partition's outcome for the status endpoint.
type InstanceStatus struct {
	Parameter string
	State     model.State
	Data      model.StateData
}

// Engine owns backfill creation, advancement, status reporting, halt
// and update.
type Engine struct {
	Workflows  store.WorkflowStore
	Backfills  store.BackfillStore
	Log        eventlog.Store
	Dispatcher Dispatcher
	Logger     *slog.Logger

	replayer *replay.Replayer
	now      func() time.Time
}

// New returns a ready Engine.
func New(workflows store.WorkflowStore, backfills store.BackfillStore, log eventlog.Store, dispatcher Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		Workflows:  workflows,
		Backfills:  backfills,
		Log:        log,
		Dispatcher: dispatcher,
		Logger:     logger,
		replayer:   replay.New(log),
		now:        time.Now,
	}
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Create validates and persists a new Backfill.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*model.Backfill, error) {
	wf, err := e.Workflows.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Configured() {
		return nil, &coreerrors.ValidationError{Field: "workflow", Message: "workflow has no container configuration"}
	}
	if !in.Start.Before(in.End) {
		return nil, &coreerrors.ValidationError{Field: "start", Message: "start must be before end"}
	}
	if !schedule.Aligned(wf.Schedule, in.Start) {
		return nil, &coreerrors.ValidationError{Field: "start", Message: "start parameter not aligned with schedule"}
	}
	if !schedule.Aligned(wf.Schedule, in.End) {
		return nil, &coreerrors.ValidationError{Field: "end", Message: "end parameter not aligned with schedule"}
	}

	if !in.AllowFuture {
		now := e.clock()
		if in.Start.After(now) {
			return nil, &coreerrors.ValidationError{Field: "start", Message: "start is in the future"}
		}
		prevEnd, err := schedule.PreviousInstant(wf.Schedule, in.End)
		if err != nil {
			return nil, err
		}
		if prevEnd.After(now) {
			return nil, &coreerrors.ValidationError{Field: "end", Message: "end is in the future"}
		}
	}

	partitions, err := enumerate(wf.Schedule, in.Start, in.End)
	if err != nil {
		return nil, err
	}

	if err := e.checkNoConflict(ctx, in.WorkflowID, wf.Schedule, partitions); err != nil {
		return nil, err
	}

	next := in.Start
	if in.Reverse {
		next = partitions[len(partitions)-1]
	}

	b := &model.Backfill{
		ID:                "backfill-" + uuid.NewString(),
		WorkflowID:        in.WorkflowID,
		Start:             in.Start,
		End:               in.End,
		Schedule:          wf.Schedule,
		Concurrency:       in.Concurrency,
		NextTrigger:       next,
		Description:       in.Description,
		Reverse:           in.Reverse,
		TriggerParameters: in.TriggerParameters,
	}

	if err := e.Backfills.CreateBackfill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// checkNoConflict rejects creation if any partition is currently active
// under a trigger other than a prospective backfill of its own.
func (e *Engine) checkNoConflict(ctx context.Context, workflowID model.WorkflowId, sched model.Schedule, partitions []time.Time) error {
	index, err := e.Log.ActiveIndex(ctx)
	if err != nil {
		return err
	}
	active := make(map[model.WorkflowInstance]struct{}, len(index))
	for _, entry := range index {
		active[entry.Instance] = struct{}{}
	}

	var conflicts []string
	for _, t := range partitions {
		instance := model.WorkflowInstance{WorkflowID: workflowID, Parameter: schedule.Parameter(sched, t)}
		if _, ok := active[instance]; ok {
			conflicts = append(conflicts, instance.Parameter)
		}
	}
	if len(conflicts) > 0 {
		return &coreerrors.ConflictError{Reason: fmt.Sprintf("instances already active: %v", conflicts)}
	}
	return nil
}

// enumerate returns every aligned instant in [start, end) in ascending order.
func enumerate(s model.Schedule, start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	t := start
	for t.Before(end) {
		out = append(out, t)
		next, err := schedule.NextInstant(s, t)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return out, nil
}

// AdvanceAll considers every unhalted, not-allTriggered backfill once.
func (e *Engine) AdvanceAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.advanceOne(ctx, id); err != nil && e.Logger != nil {
			e.Logger.Error("backfill advance failed", "backfill_id", id, "error", err)
		}
	}
}

func (e *Engine) advanceOne(ctx context.Context, id string) error {
	b, err := e.Backfills.GetBackfill(ctx, id)
	if err != nil {
		return err
	}
	if b.Halted || b.AllTriggered {
		return nil
	}

	wf, err := e.Workflows.GetWorkflow(ctx, b.WorkflowID)
	if err != nil {
		return err
	}

	for {
		running, err := e.runningCount(ctx, b.ID)
		if err != nil {
			return err
		}
		if running >= b.Concurrency {
			return nil
		}

		b, err = e.Backfills.GetBackfill(ctx, id)
		if err != nil {
			return err
		}
		if b.Halted || b.AllTriggered {
			return nil
		}

		crossed, err := e.fireAndAdvance(ctx, b, wf)
		if err != nil {
			return err
		}
		if crossed {
			return nil
		}
	}
}

// fireAndAdvance fires the cursor's current instant and moves the
// cursor forward (or backward) one step. It reports whether the cursor
// has now crossed the backfill's bound.
func (e *Engine) fireAndAdvance(ctx context.Context, b *model.Backfill, wf *model.Workflow) (bool, error) {
	instance := model.WorkflowInstance{WorkflowID: b.WorkflowID, Parameter: schedule.Parameter(wf.Schedule, b.NextTrigger)}

	_, err := e.Dispatcher.Dispatch(ctx, model.Event{
		Instance:  instance,
		Type:      model.EventTriggerExecution,
		TriggerID: b.ID,
		Params:    b.TriggerParameters,
	})
	var illegal *coreerrors.IllegalTransitionError
	if err != nil && !errors.As(err, &illegal) {
		return false, fmt.Errorf("dispatch backfill trigger for %s: %w", instance, err)
	}
	if err == nil {
		coremetrics.BackfillTriggersEmitted.WithLabelValues(b.ID).Inc()
	}

	crossed := false
	return crossed, e.Backfills.WithBackfillTx(ctx, b.ID, func(ctx context.Context, current *model.Backfill) (*model.Backfill, error) {
		if current.Halted || current.AllTriggered {
			crossed = true
			return current, nil
		}

		var next time.Time
		var err error
		if current.Reverse {
			next, err = schedule.PreviousInstant(wf.Schedule, current.NextTrigger)
		} else {
			next, err = schedule.NextInstant(wf.Schedule, current.NextTrigger)
		}
		if err != nil {
			return nil, err
		}

		current.NextTrigger = next
		if current.Reverse {
			if next.Before(current.Start) {
				current.AllTriggered = true
				crossed = true
			}
		} else {
			if !next.Before(current.End) {
				current.AllTriggered = true
				crossed = true
			}
		}
		return current, nil
	})
}

func (e *Engine) runningCount(ctx context.Context, backfillID string) (int, error) {
	index, err := e.Log.ActiveIndex(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range index {
		if entry.TriggerID == backfillID {
			count++
		}
	}
	return count, nil
}

// Status reports each partition's last-known outcome, processed
// instants first in cursor order, then waiting instants with a
// synthetic WAITING status.
func (e *Engine) Status(ctx context.Context, id string) ([]InstanceStatus, error) {
	b, err := e.Backfills.GetBackfill(ctx, id)
	if err != nil {
		return nil, err
	}

	partitions, err := enumerate(b.Schedule, b.Start, b.End)
	if err != nil {
		return nil, err
	}

	var processed, waiting []time.Time
	for _, t := range partitions {
		isProcessed := t.Before(b.NextTrigger)
		if b.Reverse {
			isProcessed = t.After(b.NextTrigger)
		}
		if isProcessed {
			processed = append(processed, t)
		} else {
			waiting = append(waiting, t)
		}
	}
	if b.Reverse {
		reverseTimes(processed)
		reverseTimes(waiting)
	}

	var out []InstanceStatus
	for _, t := range processed {
		param := schedule.Parameter(b.Schedule, t)
		instance := model.WorkflowInstance{WorkflowID: b.WorkflowID, Parameter: param}
		rs, err := e.replayer.Replay(ctx, instance)
		if err != nil || rs.State == "" {
			out = append(out, InstanceStatus{Parameter: param, State: model.StateUnknown})
			continue
		}
		out = append(out, InstanceStatus{Parameter: param, State: rs.State, Data: rs.Data})
	}
	for _, t := range waiting {
		out = append(out, InstanceStatus{Parameter: schedule.Parameter(b.Schedule, t), State: model.StateWaiting})
	}
	return out, nil
}

func reverseTimes(ts []time.Time) {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
}

// HaltResult reports the outcome of best-effort per-instance halting,
// after the durable flag flip has already succeeded.
type HaltResult struct {
	Attempted int
	Failed    []string
}

// Halt durably flips halted=true, then best-effort submits a halt
// event for each currently active instance of this backfill. A failure
// halting an individual instance is reported but never undoes the flag.
func (e *Engine) Halt(ctx context.Context, id string) (HaltResult, error) {
	err := e.Backfills.WithBackfillTx(ctx, id, func(ctx context.Context, b *model.Backfill) (*model.Backfill, error) {
		b.Halted = true
		return b, nil
	})
	if err != nil {
		return HaltResult{}, err
	}

	index, err := e.Log.ActiveIndex(ctx)
	if err != nil {
		return HaltResult{}, err
	}

	var result HaltResult
	for _, entry := range index {
		if entry.TriggerID != id {
			continue
		}
		result.Attempted++
		if _, dispatchErr := e.Dispatcher.Dispatch(ctx, model.Event{Instance: entry.Instance, Type: model.EventHalt}); dispatchErr != nil {
			result.Failed = append(result.Failed, entry.Instance.String())
			if e.Logger != nil {
				e.Logger.Error("failed to halt backfill instance", "backfill_id", id, "instance", entry.Instance.String(), "error", dispatchErr)
			}
		}
	}
	return result, nil
}

// Update mutates only concurrency and description, inside a
// read-modify-write transaction over the Backfill row.
func (e *Engine) Update(ctx context.Context, id string, concurrency *int, description *string) (*model.Backfill, error) {
	var updated *model.Backfill
	err := e.Backfills.WithBackfillTx(ctx, id, func(ctx context.Context, b *model.Backfill) (*model.Backfill, error) {
		if concurrency != nil {
			b.Concurrency = *concurrency
		}
		if description != nil {
			b.Description = *description
		}
		updated = b
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
