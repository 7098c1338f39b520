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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

var instance = model.WorkflowInstance{WorkflowID: "wf", Parameter: "2020-01-01"}

func TestAppendAndRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Append(ctx, instance, 0, model.Event{Instance: instance, Type: model.EventTriggerExecution, Counter: 1, TriggerID: "t1"})
	require.NoError(t, err)

	err = s.Append(ctx, instance, 1, model.Event{Instance: instance, Type: model.EventDequeue, Counter: 2})
	require.NoError(t, err)

	events, err := s.Events(ctx, instance)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Counter)
	assert.Equal(t, int64(2), events[1].Counter)
}

func TestAppendConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, instance, 0, model.Event{Counter: 1}))

	err := s.Append(ctx, instance, 0, model.Event{Counter: 1})
	require.Error(t, err)
	var conflict *coreerrors.OptimisticConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ActualCounter)
}

func TestActiveIndexAndRemoval(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, instance, 0, model.Event{Counter: 1, TriggerID: "t1"}))

	index, err := s.ActiveIndex(ctx)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, instance, index[0].Instance)

	require.NoError(t, s.RemoveFromIndex(ctx, instance))
	index, err = s.ActiveIndex(ctx)
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestEventsByTrigger(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, instance, 0, model.Event{Counter: 1, TriggerID: "natural-abc"}))

	events, err := s.EventsByTrigger(ctx, "natural-abc")
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = s.EventsByTrigger(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, events)
}
