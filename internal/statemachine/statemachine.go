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

// Package statemachine implements the pure (State, StateData, Event) ->
// (State, StateData) transition function that drives a WorkflowInstance
// through its run. It has no side effects and no dependency on storage,
// the clock, or the container runner: every other component calls into
// it and persists or acts on the result.
package statemachine

import (
	"time"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

const (
	baseRetryDelay = 2 * time.Second
	maxExponent    = 6
	maxRetryDelay  = 5 * time.Minute
)

// SuccessExitCodes is the set of process exit codes treated as success
// when applying a terminate event from RUNNING.
var SuccessExitCodes = map[int]struct{}{0: {}}

// Apply computes the next (State, StateData) for ev applied to state
// carrying data. It never mutates its inputs. An event illegal for the
// current state returns an *coreerrors.IllegalTransitionError; the
// caller's counter/state are left untouched.
func Apply(instance model.WorkflowInstance, state model.State, data model.StateData, ev model.Event) (model.State, model.StateData, error) {
	next := data
	next.Messages = append(append([]string{}, data.Messages...), messageFor(ev))

	// Universal events accepted from any non-terminal state.
	switch ev.Type {
	case model.EventHalt:
		if state.Terminal() {
			return state, data, illegal(instance, state, ev)
		}
		return model.StateDone, next, nil
	case model.EventTimeout:
		if state.Terminal() {
			return state, data, illegal(instance, state, ev)
		}
		return model.StateFailed, next, nil
	case model.EventInfo:
		if state.Terminal() {
			return state, data, illegal(instance, state, ev)
		}
		next.Messages = append(next.Messages, ev.Message)
		return state, next, nil
	}

	switch state {
	case model.StateNew:
		if ev.Type == model.EventTriggerExecution {
			next.TriggerID = ev.TriggerID
			next.TriggerParameters = copyParams(ev.Params)
			return model.StateQueued, next, nil
		}

	case model.StateQueued:
		if ev.Type == model.EventDequeue {
			return model.StatePrepare, next, nil
		}

	case model.StatePrepare:
		if ev.Type == model.EventSubmit {
			return model.StateSubmitting, next, nil
		}

	case model.StateSubmitting:
		switch ev.Type {
		case model.EventSubmitted:
			next.ExecutionID = ev.ExecutionID
			return model.StateSubmitted, next, nil
		case model.EventRunError:
			return model.StateFailed, next, nil
		}

	case model.StateSubmitted:
		if ev.Type == model.EventStarted {
			return model.StateRunning, next, nil
		}

	case model.StateRunning:
		if ev.Type == model.EventTerminate {
			next.LastExit = ev.ExitCode
			if _, ok := SuccessExitCodes[ev.ExitCode]; ok {
				return model.StateDone, next, nil
			}
			return model.StateTerminated, next, nil
		}

	case model.StateTerminated, model.StateFailed:
		switch ev.Type {
		case model.EventRetryAfter:
			next.RetryDelayMillis = ev.Delay.Milliseconds()
			return model.StateAwaitingRetry, next, nil
		case model.EventRunError:
			return model.StateFailed, next, nil
		case model.EventGiveUp:
			return model.StateError, next, nil
		}

	case model.StateAwaitingRetry:
		if ev.Type == model.EventRetry {
			next.RetryCost++
			return model.StateQueued, next, nil
		}
	}

	return state, data, illegal(instance, state, ev)
}

func illegal(instance model.WorkflowInstance, state model.State, ev model.Event) error {
	return &coreerrors.IllegalTransitionError{
		Instance:  instance.String(),
		FromState: string(state),
		EventType: string(ev.Type),
	}
}

func messageFor(ev model.Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	return string(ev.Type)
}

func copyParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RetryDelay computes the exponential backoff delay for a retry attempt
// at the given retryCost (number of prior retries).
func RetryDelay(retryCost int) time.Duration {
	exp := retryCost
	if exp > maxExponent {
		exp = maxExponent
	}
	d := baseRetryDelay
	for i := 0; i < exp; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
