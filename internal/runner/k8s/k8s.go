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

// Package k8s shapes a runner.Adapter backed by Kubernetes Jobs: one
// Job per execution, polled for completion. It does not depend on
// k8s.io/client-go; JobClient is the seam a real cluster client plugs
// into, left to deployment configuration.
package k8s

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/workflowcore/internal/runner"
)

// JobSpec is the minimal shape of a Kubernetes Job this adapter submits.
type JobSpec struct {
	Name      string
	Namespace string
	Image     string
	Command   []string
	CPU       string
	Memory    string
	Env       map[string]string
}

// JobStatus reports a submitted Job's observed state.
type JobStatus struct {
	Complete bool
	ExitCode int
	Err      error
}

// JobClient is implemented by whatever talks to the cluster (typically
// a thin wrapper over k8s.io/client-go's BatchV1Jobs). The adapter only
// needs to submit a spec and poll for completion.
type JobClient interface {
	SubmitJob(ctx context.Context, spec JobSpec) error
	PollJob(ctx context.Context, namespace, name string) (JobStatus, error)
	DeleteJob(ctx context.Context, namespace, name string) error
}

// Adapter submits one Job per execution and polls PollInterval until
// the Job reports completion.
type Adapter struct {
	client       JobClient
	namespace    string
	pollInterval time.Duration

	mu   sync.Mutex
	jobs map[string]JobSpec
}

// New returns an Adapter submitting Jobs in namespace via client.
func New(client JobClient, namespace string, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Adapter{
		client:       client,
		namespace:    namespace,
		pollInterval: pollInterval,
		jobs:         make(map[string]JobSpec),
	}
}

var _ runner.Adapter = (*Adapter)(nil)

func (a *Adapter) Start(ctx context.Context, desc runner.ExecutionDescription) (string, error) {
	executionID := "wf-" + uuid.NewString()
	spec := JobSpec{
		Name:      executionID,
		Namespace: a.namespace,
		Image:     desc.Image,
		Command:   desc.Command,
		CPU:       desc.CPU,
		Memory:    desc.Memory,
		Env:       desc.Params,
	}
	if err := a.client.SubmitJob(ctx, spec); err != nil {
		return "", fmt.Errorf("k8s runner: submit job for %s: %w", desc.Instance, err)
	}

	a.mu.Lock()
	a.jobs[executionID] = spec
	a.mu.Unlock()

	return executionID, nil
}

func (a *Adapter) Await(ctx context.Context, executionID string) <-chan runner.Termination {
	out := make(chan runner.Termination, 1)

	a.mu.Lock()
	spec, ok := a.jobs[executionID]
	a.mu.Unlock()
	if !ok {
		out <- runner.Termination{ExecutionID: executionID, Err: fmt.Errorf("k8s runner: unknown execution %s", executionID)}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				out <- runner.Termination{ExecutionID: executionID, Err: ctx.Err()}
				return
			case <-ticker.C:
				status, err := a.client.PollJob(ctx, spec.Namespace, spec.Name)
				if err != nil {
					out <- runner.Termination{ExecutionID: executionID, Err: err}
					return
				}
				if status.Complete {
					out <- runner.Termination{ExecutionID: executionID, ExitCode: status.ExitCode, Err: status.Err, FinishedAt: time.Now()}
					return
				}
			}
		}
	}()
	return out
}

func (a *Adapter) Cleanup(ctx context.Context, executionID string) error {
	a.mu.Lock()
	spec, ok := a.jobs[executionID]
	delete(a.jobs, executionID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.client.DeleteJob(ctx, spec.Namespace, spec.Name)
}
