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

// Package local is a runner.Adapter that runs a WorkflowInstance's
// configured command as a local OS process. Used in development mode
// where no container orchestrator is available.
package local

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/workflowcore/internal/runner"
)

type execution struct {
	cmd  *exec.Cmd
	done chan runner.Termination
}

// Adapter runs commands as local child processes.
type Adapter struct {
	mu         sync.Mutex
	executions map[string]*execution
}

// New returns a ready Adapter.
func New() *Adapter {
	return &Adapter{executions: make(map[string]*execution)}
}

var _ runner.Adapter = (*Adapter)(nil)

// Start launches desc.Command as a child process. desc.Image is
// recorded but not used to select a binary: local mode assumes the
// command is already on PATH.
func (a *Adapter) Start(ctx context.Context, desc runner.ExecutionDescription) (string, error) {
	if len(desc.Command) == 0 {
		return "", fmt.Errorf("local runner: empty command for %s", desc.Instance)
	}

	cmd := exec.Command(desc.Command[0], desc.Command[1:]...)
	for k, v := range desc.Params {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	done := make(chan runner.Termination, 1)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("local runner: start %s: %w", desc.Instance, err)
	}

	executionID := uuid.NewString()
	ex := &execution{cmd: cmd, done: done}

	a.mu.Lock()
	a.executions[executionID] = ex
	a.mu.Unlock()

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		done <- runner.Termination{ExecutionID: executionID, ExitCode: exitCode, FinishedAt: time.Now()}
		close(done)
	}()

	return executionID, nil
}

// Await returns the channel the execution's outcome is delivered on.
func (a *Adapter) Await(ctx context.Context, executionID string) <-chan runner.Termination {
	a.mu.Lock()
	ex, ok := a.executions[executionID]
	a.mu.Unlock()

	out := make(chan runner.Termination, 1)
	if !ok {
		out <- runner.Termination{ExecutionID: executionID, Err: fmt.Errorf("local runner: unknown execution %s", executionID)}
		close(out)
		return out
	}

	go func() {
		select {
		case t := <-ex.done:
			out <- t
		case <-ctx.Done():
			out <- runner.Termination{ExecutionID: executionID, Err: ctx.Err()}
		}
		close(out)
	}()
	return out
}

// Cleanup forgets executionID's bookkeeping. The child process, if
// still running, is left alone; local mode has no sandbox to tear down.
func (a *Adapter) Cleanup(ctx context.Context, executionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.executions, executionID)
	return nil
}
