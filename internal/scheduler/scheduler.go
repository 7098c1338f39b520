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

// Package scheduler runs the periodic tick that scans every active
// instance for two stuck conditions a state machine transition can
// never detect on its own: a state held past its configured TTL, and
// an AWAITING_RETRY instance whose backoff has elapsed. Ticks never
// overlap, and a panic inside one tick is contained so it cannot kill
// the ticker goroutine.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/workflowcore/workflowcore/internal/coremetrics"
	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
)

// StateLoader resolves an instance's current RunState. statemanager.Manager
// satisfies this.
type StateLoader interface {
	RunState(ctx context.Context, instance model.WorkflowInstance) (model.RunState, error)
}

// Dispatcher feeds a follow-up event back into an instance's state
// machine. statemanager.Manager satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (model.RunState, error)
}

// TTLSource resolves the configured TTL for a state name.
type TTLSource interface {
	TTLFor(state string) (time.Duration, error)
}

// Scheduler periodically scans the active index for stale states.
type Scheduler struct {
	Log        eventlog.Store
	States     StateLoader
	Dispatcher Dispatcher
	TTLs       TTLSource
	Logger     *slog.Logger

	running  atomic.Bool
	lastTick atomic.Pointer[time.Time]
	now      func() time.Time
}

// LastTick returns the wall-clock time the most recent tick completed,
// the zero value if no tick has run yet.
func (s *Scheduler) LastTick() time.Time {
	t := s.lastTick.Load()
	if t == nil {
		return time.Time{}
	}
	return *t
}

// New returns a ready Scheduler. now defaults to time.Now when nil.
func New(log eventlog.Store, states StateLoader, dispatcher Dispatcher, ttls TTLSource, logger *slog.Logger) *Scheduler {
	return &Scheduler{Log: log, States: states, Dispatcher: dispatcher, TTLs: ttls, Logger: logger, now: time.Now}
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickGuarded(ctx)
		}
	}
}

// tickGuarded skips this tick if the previous one is still running, and
// recovers any panic so the ticker loop above keeps going.
func (s *Scheduler) tickGuarded(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		if s.Logger != nil {
			s.Logger.Warn("scheduler tick skipped, previous tick still running")
		}
		return
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil && s.Logger != nil {
			s.Logger.Error("scheduler tick panicked", "panic", r)
		}
	}()

	start := s.clock()
	if err := s.Tick(ctx); err != nil && s.Logger != nil {
		s.Logger.Error("scheduler tick failed", "error", err)
	}
	now := s.clock()
	s.lastTick.Store(&now)
	coremetrics.SchedulerTickDuration.Observe(now.Sub(start).Seconds())
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Tick scans every active instance once.
func (s *Scheduler) Tick(ctx context.Context) error {
	index, err := s.Log.ActiveIndex(ctx)
	if err != nil {
		return err
	}
	coremetrics.ActiveInstances.Set(float64(len(index)))

	for _, entry := range index {
		rs, err := s.States.RunState(ctx, entry.Instance)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("scheduler could not load run state", "instance", entry.Instance.String(), "error", err)
			}
			continue
		}
		s.checkInstance(ctx, rs)
	}
	return nil
}

func (s *Scheduler) checkInstance(ctx context.Context, rs model.RunState) {
	if rs.State.Terminal() {
		return
	}

	if rs.State == model.StateAwaitingRetry {
		due := rs.Timestamp.Add(time.Duration(rs.Data.RetryDelayMillis) * time.Millisecond)
		if !s.clock().Before(due) {
			if _, err := s.Dispatcher.Dispatch(ctx, model.Event{Instance: rs.Instance, Type: model.EventRetry}); err != nil && s.Logger != nil {
				s.Logger.Error("scheduler could not dispatch retry", "instance", rs.Instance.String(), "error", err)
			}
		}
		return
	}

	ttl, err := s.TTLs.TTLFor(string(rs.State))
	if err != nil {
		return
	}
	if s.clock().Sub(rs.Timestamp) < ttl {
		return
	}

	coremetrics.StaleStatesDetected.WithLabelValues(string(rs.State)).Inc()
	if _, err := s.Dispatcher.Dispatch(ctx, model.Event{
		Instance: rs.Instance,
		Type:     model.EventTimeout,
		Message:  "state exceeded configured TTL",
	}); err != nil && s.Logger != nil {
		s.Logger.Error("scheduler could not dispatch timeout", "instance", rs.Instance.String(), "error", err)
	}
}
