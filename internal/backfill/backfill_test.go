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

package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventlogmem "github.com/workflowcore/workflowcore/internal/eventlog/memory"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/statemanager"
	storemem "github.com/workflowcore/workflowcore/internal/store/memory"
)

func newHarness(t *testing.T) (*Engine, *storemem.Store, *statemanager.Manager) {
	t.Helper()
	log := eventlogmem.New()
	st := storemem.New(10)
	mgr := statemanager.New(log, nil, statemanager.Config{Shards: 4, HandlerWorkers: 2})
	e := New(st, st, log, mgr, nil)
	return e, st, mgr
}

func days(n int) time.Time {
	return time.Date(2020, 1, 1+n, 0, 0, 0, 0, time.UTC)
}

func TestCreateRejectsUnconfiguredWorkflow(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays}}))

	_, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(3)})
	require.Error(t, err)
}

func TestCreateRejectsMisalignedStart(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	misaligned := days(0).Add(3 * time.Hour)
	_, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: misaligned, End: days(3)})
	require.Error(t, err)
}

func TestCreateRejectsFutureWithoutAllowFuture(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	future := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(24 * time.Hour)
	_, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: future, End: future.Add(72 * time.Hour)})
	require.Error(t, err)
}

func TestCreateRejectsConflictWithActiveInstance(t *testing.T) {
	e, st, mgr := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	instance := model.WorkflowInstance{WorkflowID: "wf", Parameter: "2020-01-01"}
	_, err := mgr.Dispatch(ctx, model.Event{Instance: instance, Type: model.EventTriggerExecution, TriggerID: "manual-1"})
	require.NoError(t, err)

	_, err = e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(3)})
	require.Error(t, err)
}

func TestForwardBackfillAdvancesUnderConcurrencyCap(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(5), Concurrency: 2})
	require.NoError(t, err)

	e.AdvanceAll(ctx, []string{b.ID})

	running, err := e.runningCount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, running, "advancement stops once the concurrency cap is reached")

	got, err := st.GetBackfill(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.AllTriggered)
	assert.True(t, got.NextTrigger.Equal(days(2)), "cursor sits at the third partition once two are in flight")
}

func TestReverseBackfillFiresFromLastPartitionBackward(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(3), Concurrency: 1, Reverse: true})
	require.NoError(t, err)
	assert.True(t, b.NextTrigger.Equal(days(2)), "reverse backfill's cursor starts at the last partition")

	e.AdvanceAll(ctx, []string{b.ID})

	got, err := st.GetBackfill(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.NextTrigger.Equal(days(1)))
}

func TestBackfillCompletesAndSetsAllTriggered(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(2), Concurrency: 5})
	require.NoError(t, err)

	e.AdvanceAll(ctx, []string{b.ID})

	got, err := st.GetBackfill(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.AllTriggered)
}

func TestHaltStopsFurtherAdvancementAndMarksActiveInstances(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))

	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(5), Concurrency: 2})
	require.NoError(t, err)
	e.AdvanceAll(ctx, []string{b.ID})

	result, err := e.Halt(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2, result.Attempted)

	got, err := st.GetBackfill(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Halted)

	before := got.NextTrigger
	e.AdvanceAll(ctx, []string{b.ID})
	got, err = st.GetBackfill(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.NextTrigger.Equal(before), "a halted backfill never advances again")
}

func TestUpdateChangesOnlyConcurrencyAndDescription(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))
	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(3), Concurrency: 1})
	require.NoError(t, err)

	newConcurrency := 4
	newDescription := "widened for backlog catch-up"
	updated, err := e.Update(ctx, b.ID, &newConcurrency, &newDescription)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Concurrency)
	assert.Equal(t, "widened for backlog catch-up", updated.Description)
	assert.True(t, updated.Start.Equal(b.Start), "update never touches start/end")
}

func TestStatusPartitionsProcessedAndWaiting(t *testing.T) {
	e, st, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, &model.Workflow{
		ID: "wf", Schedule: model.Schedule{Kind: model.ScheduleDays},
		Configuration: model.Configuration{DockerImage: "busybox"},
	}))
	b, err := e.Create(ctx, CreateInput{WorkflowID: "wf", Start: days(0), End: days(4), Concurrency: 1})
	require.NoError(t, err)

	e.AdvanceAll(ctx, []string{b.ID})

	statuses, err := e.Status(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	assert.Equal(t, "2020-01-01", statuses[0].Parameter)
	assert.NotEqual(t, model.StateWaiting, statuses[0].State)
	assert.Equal(t, model.StateWaiting, statuses[len(statuses)-1].State)
}
