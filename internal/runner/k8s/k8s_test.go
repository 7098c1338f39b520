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

package k8s

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/workflowcore/internal/runner"
)

type fakeJobClient struct {
	mu           sync.Mutex
	submitted    map[string]JobSpec
	completeAt   int
	pollCount    map[string]int
	deletedNames []string
}

func newFakeJobClient(completeAfterPolls int) *fakeJobClient {
	return &fakeJobClient{
		submitted: make(map[string]JobSpec),
		pollCount: make(map[string]int),
		completeAt: completeAfterPolls,
	}
}

func (f *fakeJobClient) SubmitJob(ctx context.Context, spec JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[spec.Name] = spec
	return nil
}

func (f *fakeJobClient) PollJob(ctx context.Context, namespace, name string) (JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount[name]++
	if f.pollCount[name] >= f.completeAt {
		return JobStatus{Complete: true, ExitCode: 0}, nil
	}
	return JobStatus{Complete: false}, nil
}

func (f *fakeJobClient) DeleteJob(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedNames = append(f.deletedNames, name)
	return nil
}

func TestStartSubmitsJob(t *testing.T) {
	client := newFakeJobClient(1)
	a := New(client, "default", 5*time.Millisecond)

	id, err := a.Start(context.Background(), runner.ExecutionDescription{Image: "busybox"})
	require.NoError(t, err)
	assert.Contains(t, client.submitted, id)
}

func TestAwaitPollsUntilComplete(t *testing.T) {
	client := newFakeJobClient(3)
	a := New(client, "default", 5*time.Millisecond)

	id, err := a.Start(context.Background(), runner.ExecutionDescription{Image: "busybox"})
	require.NoError(t, err)

	select {
	case term := <-a.Await(context.Background(), id):
		assert.Equal(t, 0, term.ExitCode)
		assert.NoError(t, term.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}
}

func TestCleanupDeletesJob(t *testing.T) {
	client := newFakeJobClient(1)
	a := New(client, "default", 5*time.Millisecond)

	id, err := a.Start(context.Background(), runner.ExecutionDescription{Image: "busybox"})
	require.NoError(t, err)

	require.NoError(t, a.Cleanup(context.Background(), id))
	assert.Contains(t, client.deletedNames, id)
}

func TestAwaitUnknownExecution(t *testing.T) {
	client := newFakeJobClient(1)
	a := New(client, "default", 5*time.Millisecond)

	term := <-a.Await(context.Background(), "nope")
	require.Error(t, term.Err)
}
