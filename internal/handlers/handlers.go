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

// Package handlers implements the ordered output handlers that react to
// durable state transitions: submitting work to the container runner,
// awaiting its termination, publishing completion notifications,
// logging, and metering. A handler's failure is isolated to that
// handler; it is logged and metered but never reverses or retries the
// transition that triggered it.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflowcore/workflowcore/internal/coremetrics"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/runner"
	"github.com/workflowcore/workflowcore/internal/statemachine"
	"github.com/workflowcore/workflowcore/internal/store"
)

// Dispatcher is the narrow slice of statemanager.Manager the handlers
// need: the ability to feed a follow-up event back into an instance's
// state machine. Defined here, rather than imported, so this package
// does not depend on statemanager.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (model.RunState, error)
}

// TransitionLogger logs every applied transition.
type TransitionLogger struct {
	Logger *slog.Logger
}

func (h *TransitionLogger) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	h.Logger.Info("state transition",
		"instance", after.Instance.String(),
		"event", string(ev.Type),
		"from_state", string(before.State),
		"to_state", string(after.State),
		"counter", after.Counter,
	)
}

// MonitoringHandler records Prometheus metrics for every transition.
type MonitoringHandler struct{}

func (h *MonitoringHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	coremetrics.StateTransitions.WithLabelValues(string(after.State)).Inc()
}

// RateLimiter is the narrow slice of ratelimit.Limiter the dequeue
// handler needs: blocking until the global submission rate admits
// another instance. Defined here, rather than imported, for the same
// reason as Dispatcher: this package should not depend on ratelimit.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// DequeueHandler reacts to an instance entering QUEUED by waiting for
// the global submission rate limiter to admit it, then dispatching
// dequeue so the instance can proceed into PREPARE. Per-backfill
// concurrency is already enforced before the triggering event was ever
// emitted (the backfill advancer caps its running count below
// concurrency before firing a new trigger), so no further gate is
// needed here.
type DequeueHandler struct {
	Limiter    RateLimiter
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (h *DequeueHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if after.State != model.StateQueued {
		return
	}

	if err := h.Limiter.Wait(ctx); err != nil {
		coremetrics.HandlerErrors.WithLabelValues("DequeueHandler").Inc()
		if h.Logger != nil {
			h.Logger.Error("rate limiter wait failed", "instance", after.Instance.String(), "error", err)
		}
		return
	}

	if _, err := h.Dispatcher.Dispatch(ctx, model.Event{
		Instance: after.Instance,
		Type:     model.EventDequeue,
	}); err != nil {
		coremetrics.HandlerErrors.WithLabelValues("DequeueHandler").Inc()
		if h.Logger != nil {
			h.Logger.Error("dispatch dequeue failed", "instance", after.Instance.String(), "error", err)
		}
	}
}

// ExecutionDescriptionHandler reacts to an instance entering PREPARE by
// resolving the workflow's container configuration into a
// runner.ExecutionDescription and advancing the instance to SUBMITTING.
type ExecutionDescriptionHandler struct {
	Workflows  store.WorkflowStore
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (h *ExecutionDescriptionHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if after.State != model.StatePrepare {
		return
	}

	wf, err := h.Workflows.GetWorkflow(ctx, after.Instance.WorkflowID)
	if err != nil {
		h.fail(ctx, after, "resolve workflow: "+err.Error())
		return
	}
	if !wf.Configured() {
		h.fail(ctx, after, "workflow has no container configuration")
		return
	}

	if _, err := h.Dispatcher.Dispatch(ctx, model.Event{
		Instance: after.Instance,
		Type:     model.EventSubmit,
	}); err != nil {
		h.logError("ExecutionDescriptionHandler", err)
	}
}

func (h *ExecutionDescriptionHandler) fail(ctx context.Context, rs model.RunState, reason string) {
	if _, err := h.Dispatcher.Dispatch(ctx, model.Event{
		Instance: rs.Instance,
		Type:     model.EventRunError,
		Message:  reason,
	}); err != nil {
		h.logError("ExecutionDescriptionHandler", err)
	}
}

func (h *ExecutionDescriptionHandler) logError(handler string, err error) {
	coremetrics.HandlerErrors.WithLabelValues(handler).Inc()
	if h.Logger != nil {
		h.Logger.Error("handler dispatch failed", "handler", handler, "error", err)
	}
}

// DockerRunnerHandler reacts to an instance entering SUBMITTING by
// starting its container execution and reporting the outcome back into
// the state machine as submitted or runError.
type DockerRunnerHandler struct {
	Workflows store.WorkflowStore
	Adapter   runner.Adapter
	Dispatcher Dispatcher
	Logger    *slog.Logger
}

func (h *DockerRunnerHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if after.State != model.StateSubmitting {
		return
	}

	start := time.Now()
	defer func() {
		coremetrics.HandlerDuration.WithLabelValues("DockerRunnerHandler").Observe(time.Since(start).Seconds())
	}()

	wf, err := h.Workflows.GetWorkflow(ctx, after.Instance.WorkflowID)
	if err != nil {
		h.runError(ctx, after, "resolve workflow: "+err.Error())
		return
	}

	desc := runner.ExecutionDescription{
		Instance:  after.Instance,
		TriggerID: after.Data.TriggerID,
		Image:     wf.Configuration.DockerImage,
		Command:   wf.Configuration.Command,
		CPU:       wf.Configuration.CPU,
		Memory:    wf.Configuration.Memory,
		Params:    after.Data.TriggerParameters,
	}

	executionID, err := h.Adapter.Start(ctx, desc)
	if err != nil {
		coremetrics.RunnerExecutions.WithLabelValues("start_error").Inc()
		h.runError(ctx, after, "start execution: "+err.Error())
		return
	}
	coremetrics.RunnerExecutions.WithLabelValues("started").Inc()

	if _, err := h.Dispatcher.Dispatch(ctx, model.Event{
		Instance:    after.Instance,
		Type:        model.EventSubmitted,
		ExecutionID: executionID,
	}); err != nil {
		h.logError(err)
	}
}

func (h *DockerRunnerHandler) runError(ctx context.Context, rs model.RunState, reason string) {
	if _, err := h.Dispatcher.Dispatch(ctx, model.Event{
		Instance: rs.Instance,
		Type:     model.EventRunError,
		Message:  reason,
	}); err != nil {
		h.logError(err)
	}
}

func (h *DockerRunnerHandler) logError(err error) {
	coremetrics.HandlerErrors.WithLabelValues("DockerRunnerHandler").Inc()
	if h.Logger != nil {
		h.Logger.Error("handler dispatch failed", "handler", "DockerRunnerHandler", "error", err)
	}
}

// TerminationHandler reacts to an instance entering SUBMITTED by
// dispatching started, and to an instance entering RUNNING by awaiting
// the container's termination and feeding the exit code back into the
// state machine.
type TerminationHandler struct {
	Adapter    runner.Adapter
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (h *TerminationHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if after.State == model.StateSubmitted {
		if _, err := h.Dispatcher.Dispatch(ctx, model.Event{Instance: after.Instance, Type: model.EventStarted}); err != nil {
			coremetrics.HandlerErrors.WithLabelValues("TerminationHandler").Inc()
			if h.Logger != nil {
				h.Logger.Error("handler dispatch failed", "handler", "TerminationHandler", "error", err)
			}
		}
		return
	}
	if after.State != model.StateRunning {
		return
	}

	executionID := after.Data.ExecutionID
	go func() {
		term := <-h.Adapter.Await(context.Background(), executionID)
		defer func() { _ = h.Adapter.Cleanup(context.Background(), executionID) }()

		if term.Err != nil {
			coremetrics.HandlerErrors.WithLabelValues("TerminationHandler").Inc()
			if h.Logger != nil {
				h.Logger.Error("await execution failed", "execution_id", executionID, "error", term.Err)
			}
			return
		}

		if _, err := h.Dispatcher.Dispatch(context.Background(), model.Event{
			Instance: after.Instance,
			Type:     model.EventTerminate,
			ExitCode: term.ExitCode,
		}); err != nil {
			coremetrics.HandlerErrors.WithLabelValues("TerminationHandler").Inc()
			if h.Logger != nil {
				h.Logger.Error("dispatch terminate failed", "execution_id", executionID, "error", err)
			}
		}
	}()
}

// RetryPolicyHandler reacts to an instance landing in TERMINATED or
// FAILED by either scheduling a backoff retry or giving up once
// MaxRetries has been exhausted.
type RetryPolicyHandler struct {
	MaxRetries int
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (h *RetryPolicyHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if after.State != model.StateTerminated && after.State != model.StateFailed {
		return
	}

	next := model.Event{Instance: after.Instance, Type: model.EventGiveUp}
	if after.Data.RetryCost < h.MaxRetries {
		next = model.Event{
			Instance: after.Instance,
			Type:     model.EventRetryAfter,
			Delay:    statemachine.RetryDelay(after.Data.RetryCost),
		}
	}

	if _, err := h.Dispatcher.Dispatch(ctx, next); err != nil {
		coremetrics.HandlerErrors.WithLabelValues("RetryPolicyHandler").Inc()
		if h.Logger != nil {
			h.Logger.Error("dispatch retry decision failed", "instance", after.Instance.String(), "error", err)
		}
	}
}

// Publisher delivers a terminal-state notification to an external
// system (a topic, webhook, or message bus).
type Publisher interface {
	Publish(ctx context.Context, instance model.WorkflowInstance, state model.State) error
}

// PublisherHandler publishes a notification whenever an instance
// reaches a terminal state.
type PublisherHandler struct {
	Publisher Publisher
	Logger    *slog.Logger
}

func (h *PublisherHandler) Handle(ctx context.Context, before, after model.RunState, ev model.Event) {
	if !after.State.Terminal() {
		return
	}
	if err := h.Publisher.Publish(ctx, after.Instance, after.State); err != nil {
		coremetrics.HandlerErrors.WithLabelValues("PublisherHandler").Inc()
		if h.Logger != nil {
			h.Logger.Error("publish failed", "instance", after.Instance.String(), "error", err)
		}
	}
}
