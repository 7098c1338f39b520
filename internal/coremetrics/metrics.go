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

// Package coremetrics holds the Prometheus collectors registered by
// every long-running component of the scheduler core.
package coremetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts every durable transition applied by the
	// state manager, labeled by the state it landed in.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_state_transitions_total",
		Help: "Total number of durable state transitions applied",
	}, []string{"to_state"})

	// IllegalTransitions counts events rejected by the state machine.
	IllegalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_illegal_transitions_total",
		Help: "Total number of events rejected as illegal for the instance's current state",
	}, []string{"from_state", "event_type"})

	// OptimisticConflicts counts append retries caused by a concurrent
	// writer winning the race on an instance's event log.
	OptimisticConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workflowcore_optimistic_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts encountered appending to the event log",
	})

	// ActiveInstances tracks the current size of the active index.
	ActiveInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workflowcore_active_instances",
		Help: "Current number of non-terminal workflow instances",
	})

	// HandlerDuration tracks how long each output handler takes to react
	// to a transition.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflowcore_handler_duration_seconds",
		Help:    "Duration of an output handler's reaction to a state transition",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	// HandlerErrors counts handler failures, which are isolated and
	// never reverse the durable transition that triggered them.
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_handler_errors_total",
		Help: "Total number of output handler failures",
	}, []string{"handler"})

	// SchedulerTickDuration tracks the wall time of one scheduler tick.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "workflowcore_scheduler_tick_duration_seconds",
		Help:    "Duration of one scheduler stale-state scan",
		Buckets: prometheus.DefBuckets,
	})

	// StaleStatesDetected counts instances timed out by the scheduler
	// tick, labeled by the state they were found stuck in.
	StaleStatesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_stale_states_detected_total",
		Help: "Total number of instances timed out for exceeding their state's TTL",
	}, []string{"state"})

	// NaturalTriggersEmitted counts triggers the trigger manager fired
	// for reaching an aligned schedule partition.
	NaturalTriggersEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_natural_triggers_total",
		Help: "Total number of natural (schedule-driven) triggers emitted",
	}, []string{"workflow"})

	// BackfillTriggersEmitted counts triggers emitted by the backfill
	// advancer.
	BackfillTriggersEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_backfill_triggers_total",
		Help: "Total number of backfill-driven triggers emitted",
	}, []string{"backfill_id"})

	// SubmissionRateLimited counts submissions delayed or dropped by the
	// global rate limiter.
	SubmissionRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workflowcore_submission_rate_limited_total",
		Help: "Total number of container submissions that waited on the rate limiter",
	})

	// RunnerExecutions counts container runner starts, labeled by
	// outcome (started, start_error).
	RunnerExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflowcore_runner_executions_total",
		Help: "Total number of container runner start attempts",
	}, []string{"outcome"})

	// EventLogAppendLatency tracks round-trip latency of appends to the
	// durable event log.
	EventLogAppendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "workflowcore_event_log_append_latency_seconds",
		Help:    "Event log append round-trip latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
)
