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

package ratelimit

import (
	"context"

	"github.com/workflowcore/workflowcore/internal/runner"
)

// limitedAdapter wraps a runner.Adapter so every Start call first waits
// for a submission slot from the shared Limiter.
type limitedAdapter struct {
	runner.Adapter
	limiter *Limiter
}

// Wrap returns a runner.Adapter that throttles Start calls through
// limiter before delegating to adapter.
func Wrap(adapter runner.Adapter, limiter *Limiter) runner.Adapter {
	return &limitedAdapter{Adapter: adapter, limiter: limiter}
}

func (a *limitedAdapter) Start(ctx context.Context, desc runner.ExecutionDescription) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return a.Adapter.Start(ctx, desc)
}
