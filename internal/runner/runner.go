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

// Package runner defines the substitutable contract the core submits
// container work through. The core only ever calls Adapter; what runs
// the container (a local process, a Kubernetes Job, anything else) is
// deployment configuration.
package runner

import (
	"context"
	"time"

	"github.com/workflowcore/workflowcore/internal/model"
)

// ExecutionDescription is the fully-resolved request to run one
// WorkflowInstance's container once.
type ExecutionDescription struct {
	Instance  model.WorkflowInstance
	TriggerID string
	Image     string
	Command   []string
	CPU       string
	Memory    string
	Params    map[string]string
}

// Termination reports how an execution ended.
type Termination struct {
	ExecutionID string
	ExitCode    int
	Err         error
	FinishedAt  time.Time
}

// Adapter starts, awaits, and cleans up container executions.
type Adapter interface {
	// Start launches desc and returns an opaque execution ID the
	// adapter can later be asked to Await or Cleanup.
	Start(ctx context.Context, desc ExecutionDescription) (executionID string, err error)

	// Await blocks until executionID terminates, delivering exactly one
	// Termination on the returned channel. The channel is closed after
	// delivery.
	Await(ctx context.Context, executionID string) <-chan Termination

	// Cleanup releases any resources held for executionID (containers,
	// temp files, Job objects). Safe to call more than once.
	Cleanup(ctx context.Context, executionID string) error
}
