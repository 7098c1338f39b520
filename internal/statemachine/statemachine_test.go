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

package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

var instance = model.WorkflowInstance{WorkflowID: "wf", Parameter: "2020-01-01"}

func TestHappyPath(t *testing.T) {
	state := model.StateNew
	data := model.StateData{}

	state, data, err := Apply(instance, state, data, model.Event{Type: model.EventTriggerExecution, TriggerID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, state)
	assert.Equal(t, "t1", data.TriggerID)

	state, data, err = Apply(instance, state, data, model.Event{Type: model.EventDequeue})
	require.NoError(t, err)
	assert.Equal(t, model.StatePrepare, state)

	state, data, err = Apply(instance, state, data, model.Event{Type: model.EventSubmit})
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitting, state)

	state, data, err = Apply(instance, state, data, model.Event{Type: model.EventSubmitted, ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, state)
	assert.Equal(t, "exec-1", data.ExecutionID)

	state, data, err = Apply(instance, state, data, model.Event{Type: model.EventStarted})
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, state)

	state, _, err = Apply(instance, state, data, model.Event{Type: model.EventTerminate, ExitCode: 0})
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, state)
}

func TestNonZeroExitGoesToTerminated(t *testing.T) {
	state, data, err := Apply(instance, model.StateRunning, model.StateData{}, model.Event{Type: model.EventTerminate, ExitCode: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StateTerminated, state)
	assert.Equal(t, 1, data.LastExit)
}

func TestRetryLoop(t *testing.T) {
	state, data, err := Apply(instance, model.StateTerminated, model.StateData{}, model.Event{Type: model.EventRetryAfter, Delay: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingRetry, state)
	assert.Equal(t, int64(2000), data.RetryDelayMillis)

	state, data, err = Apply(instance, state, data, model.Event{Type: model.EventRetry})
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, state)
	assert.Equal(t, 1, data.RetryCost)
}

func TestHaltFromAnyNonTerminalState(t *testing.T) {
	for _, s := range []model.State{model.StateNew, model.StateQueued, model.StateRunning, model.StateAwaitingRetry} {
		state, _, err := Apply(instance, s, model.StateData{}, model.Event{Type: model.EventHalt})
		require.NoError(t, err)
		assert.Equal(t, model.StateDone, state)
	}
}

func TestHaltOnTerminalStateIsIllegal(t *testing.T) {
	_, _, err := Apply(instance, model.StateDone, model.StateData{}, model.Event{Type: model.EventHalt})
	require.Error(t, err)
	var illegalErr *coreerrors.IllegalTransitionError
	assert.ErrorAs(t, err, &illegalErr)
}

func TestTimeoutFromAnyNonTerminalState(t *testing.T) {
	state, _, err := Apply(instance, model.StateSubmitted, model.StateData{}, model.Event{Type: model.EventTimeout})
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, state)
}

func TestIllegalTransitionRejected(t *testing.T) {
	_, _, err := Apply(instance, model.StateNew, model.StateData{}, model.Event{Type: model.EventStarted})
	require.Error(t, err)
	var illegalErr *coreerrors.IllegalTransitionError
	assert.ErrorAs(t, err, &illegalErr)
}

func TestInfoAppendsMessageWithoutChangingState(t *testing.T) {
	state, data, err := Apply(instance, model.StateRunning, model.StateData{}, model.Event{Type: model.EventInfo, Message: "heartbeat"})
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, state)
	assert.Contains(t, data.Messages, "heartbeat")
}

func TestGiveUpFromTerminatedOrFailedGoesToError(t *testing.T) {
	for _, s := range []model.State{model.StateTerminated, model.StateFailed} {
		state, _, err := Apply(instance, s, model.StateData{}, model.Event{Type: model.EventGiveUp})
		require.NoError(t, err)
		assert.Equal(t, model.StateError, state)
		assert.True(t, state.Terminal())
	}
}

func TestRetryDelayExponentialWithCeiling(t *testing.T) {
	d0 := RetryDelay(0)
	d1 := RetryDelay(1)
	assert.Equal(t, 2*d0, d1)

	capped := RetryDelay(20)
	assert.LessOrEqual(t, capped, 5*time.Minute)
}
