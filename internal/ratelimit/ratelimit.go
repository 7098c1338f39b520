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

// Package ratelimit throttles container submissions with a single
// global token bucket, so a burst of natural triggers or a wide
// backfill cannot overwhelm the runtime the core submits into. The
// permitted rate is not static: it is refreshed periodically from the
// document store so an operator can adjust it without a restart.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/workflowcore/workflowcore/internal/coremetrics"
	"github.com/workflowcore/workflowcore/internal/store"
)

// Limiter is a global, dynamically-refreshed token bucket over
// container submissions.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  store.RuntimeConfigStore
}

// New starts a Limiter seeded with the given permits-per-second and
// burst.
func New(config store.RuntimeConfigStore, initialRate float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(initialRate), burst),
		config:  config,
	}
}

// Wait blocks until a submission slot is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()

	r := limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		coremetrics.SubmissionRateLimited.Inc()
	}
	if !r.OK() {
		return context.DeadlineExceeded
	}

	timer := time.NewTimer(r.Delay())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Refresh reloads the permitted rate from the document store and
// applies it to the bucket without resetting accumulated tokens.
func (l *Limiter) Refresh(ctx context.Context) error {
	permitsPerSecond, err := l.config.GetSubmissionRate(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(permitsPerSecond))
	return nil
}

// RunRefreshLoop refreshes the rate from storage every interval until
// ctx is cancelled. Intended to run as a background goroutine.
func (l *Limiter) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}
