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

// Package model holds the data types shared by every component of the
// scheduler core: workflows, instances, run state, events and backfills.
package model

import "time"

// WorkflowId identifies a workflow definition.
type WorkflowId string

// ScheduleKind is one of the closed set of supported schedule kinds.
type ScheduleKind string

const (
	ScheduleHours ScheduleKind = "HOURS"
	ScheduleDays  ScheduleKind = "DAYS"
	ScheduleWeeks ScheduleKind = "WEEKS"
	ScheduleMonths ScheduleKind = "MONTHS"
	ScheduleYears ScheduleKind = "YEARS"
	ScheduleCron  ScheduleKind = "CRON"
)

// Schedule describes a workflow's periodicity. Expr is only meaningful
// when Kind == ScheduleCron.
type Schedule struct {
	Kind ScheduleKind
	Expr string
}

// Configuration is the container-execution configuration for a workflow.
// A workflow is "configured" iff DockerImage is non-empty.
type Configuration struct {
	DockerImage string
	Command     []string
	CPU         string
	Memory      string
}

// Workflow is a named, scheduled unit of work.
type Workflow struct {
	ID                WorkflowId
	Schedule          Schedule
	Configuration     Configuration
	Enabled           bool
	NextNaturalTrigger time.Time
}

// Configured reports whether the workflow carries a runnable container image.
func (w Workflow) Configured() bool {
	return w.Configuration.DockerImage != ""
}

// WorkflowInstance identifies one scheduled occurrence of a workflow.
// Parameter is the canonical textual rendering of the partition instant
// (e.g. "2017-01-02" for DAYS, "2017-01-02T03" for HOURS).
type WorkflowInstance struct {
	WorkflowID WorkflowId
	Parameter  string
}

func (i WorkflowInstance) String() string {
	return string(i.WorkflowID) + "#" + i.Parameter
}

// State is one value of the RunState state machine.
type State string

const (
	StateNew           State = "NEW"
	StateQueued        State = "QUEUED"
	StatePrepare       State = "PREPARE"
	StateSubmitting    State = "SUBMITTING"
	StateSubmitted     State = "SUBMITTED"
	StateRunning       State = "RUNNING"
	StateTerminated    State = "TERMINATED"
	StateFailed        State = "FAILED"
	StateError         State = "ERROR"
	StateAwaitingRetry State = "AWAITING_RETRY"
	StateDone          State = "DONE"

	// StateUnknown and StateWaiting are not members of the state
	// machine; they are synthetic statuses reported by the backfill
	// status endpoint for instants with no reconstructable or not yet
	// triggered state.
	StateUnknown State = "UNKNOWN"
	StateWaiting State = "WAITING"
)

// Terminal reports whether s accepts no further events.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// StateData carries the mutable payload threaded through transitions.
type StateData struct {
	TriggerID         string
	TriggerParameters map[string]string
	ExecutionID       string
	RetryCost         int
	LastExit          int
	Messages          []string
	RetryDelayMillis  int64
}

// RunState is the current, authoritative state of one WorkflowInstance.
type RunState struct {
	Instance  WorkflowInstance
	State     State
	Data      StateData
	Timestamp time.Time
	Counter   int64
}

// EventType enumerates the event variants the state machine accepts.
type EventType string

const (
	EventTimeTrigger      EventType = "timeTrigger"
	EventTriggerExecution EventType = "triggerExecution"
	EventCreated          EventType = "created"
	EventStarted          EventType = "started"
	EventTerminate        EventType = "terminate"
	EventRunError         EventType = "runError"
	EventSuccess          EventType = "success"
	EventRetryAfter       EventType = "retryAfter"
	EventRetry            EventType = "retry"
	EventStop             EventType = "stop"
	EventTimeout          EventType = "timeout"
	EventHalt             EventType = "halt"
	EventSubmit           EventType = "submit"
	EventSubmitted        EventType = "submitted"
	EventInfo             EventType = "info"
	EventDequeue          EventType = "dequeue"
	EventGiveUp           EventType = "giveUp"
)

// Event is one entry in an instance's append-only log. Counter equals
// one past the counter of the RunState it is applied to and doubles as
// the optimistic-concurrency token for the append.
type Event struct {
	Instance    WorkflowInstance
	Type        EventType
	Counter     int64
	Timestamp   time.Time
	TriggerID   string
	ExecutionID string
	ExitCode    int
	Message     string
	Delay       time.Duration
	Params      map[string]string
}

// Backfill is a bounded, replayable, cursor-driven set of triggers over
// historical (or, if AllowFuture, future) partitions of one workflow.
type Backfill struct {
	ID                string
	WorkflowID        WorkflowId
	Start             time.Time
	End               time.Time
	Schedule          Schedule
	Concurrency       int
	NextTrigger       time.Time
	Description       string
	Reverse           bool
	AllTriggered      bool
	Halted            bool
	TriggerParameters map[string]string
}

// ActiveIndexEntry is one row of the active-instance index: a
// WorkflowInstance known to have a non-terminal RunState.
type ActiveIndexEntry struct {
	Instance  WorkflowInstance
	Counter   int64
	TriggerID string
}
