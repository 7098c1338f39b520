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

// Package statemanager owns the authoritative in-memory RunState for
// every active WorkflowInstance and is the only component that appends
// to the event log. Instances are sharded by a hash of their identity
// onto a fixed pool of single-threaded workers: events for one instance
// are always applied in order on the same goroutine, while unrelated
// instances process fully in parallel across shards.
package statemanager

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/workflowcore/workflowcore/internal/eventlog"
	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/replay"
	"github.com/workflowcore/workflowcore/internal/statemachine"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

// Handler reacts to a durable state transition. Handlers run after the
// event is already appended and the in-memory RunState already
// advanced; a Handler failure is isolated to that handler and never
// reverses or retries the transition itself.
type Handler interface {
	Handle(ctx context.Context, before, after model.RunState, ev model.Event)
}

// Manager is the sharded, event-sourced state manager.
type Manager struct {
	shards   []*shard
	handlers []Handler
	handlerWork chan handlerJob
}

type handlerJob struct {
	ctx    context.Context
	before model.RunState
	after  model.RunState
	ev     model.Event
}

type request struct {
	ctx    context.Context
	ev     model.Event
	respCh chan response
}

type response struct {
	state model.RunState
	err   error
}

type shard struct {
	log      eventlog.Store
	replayer *replay.Replayer
	states   map[model.WorkflowInstance]model.RunState
	reqCh    chan request
}

// Config controls the shard and handler-executor pool sizes.
type Config struct {
	Shards         int
	HandlerWorkers int
}

// New starts a Manager with cfg.Shards single-threaded workers and
// cfg.HandlerWorkers goroutines draining the handler fan-out queue.
// handlers run in the order given, once per applied event.
func New(log eventlog.Store, handlers []Handler, cfg Config) *Manager {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.HandlerWorkers <= 0 {
		cfg.HandlerWorkers = 1
	}

	m := &Manager{
		handlers:    handlers,
		handlerWork: make(chan handlerJob, 1024),
	}

	replayer := replay.New(log)
	m.shards = make([]*shard, cfg.Shards)
	for i := range m.shards {
		sh := &shard{
			log:      log,
			replayer: replayer,
			states:   make(map[model.WorkflowInstance]model.RunState),
			reqCh:    make(chan request, 256),
		}
		m.shards[i] = sh
		go sh.run(m)
	}

	for i := 0; i < cfg.HandlerWorkers; i++ {
		go m.runHandlerWorker()
	}

	return m
}

// Bootstrap loads every instance in the event log's active index into
// its owning shard's in-memory state, so a restarted process does not
// have to replay an instance's log on its first event.
func (m *Manager) Bootstrap(ctx context.Context, log eventlog.Store) error {
	r := replay.New(log)
	states, err := r.ReplayAll(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap state manager: %w", err)
	}
	for instance, rs := range states {
		m.shardFor(instance).states[instance] = rs
	}
	return nil
}

// Dispatch applies ev to instance's current RunState and durably
// appends it, retrying once on an optimistic conflict by reloading the
// instance from the log. It blocks until the shard has processed the
// event or ctx is cancelled.
func (m *Manager) Dispatch(ctx context.Context, ev model.Event) (model.RunState, error) {
	sh := m.shardFor(ev.Instance)
	req := request{ctx: ctx, ev: ev, respCh: make(chan response, 1)}

	select {
	case sh.reqCh <- req:
	case <-ctx.Done():
		return model.RunState{}, ctx.Err()
	}

	select {
	case resp := <-req.respCh:
		return resp.state, resp.err
	case <-ctx.Done():
		return model.RunState{}, ctx.Err()
	}
}

// RunState returns the shard-local snapshot for instance, loading it
// from the log if the shard has not seen it yet.
func (m *Manager) RunState(ctx context.Context, instance model.WorkflowInstance) (model.RunState, error) {
	sh := m.shardFor(instance)
	respCh := make(chan response, 1)
	sh.reqCh <- request{ctx: ctx, ev: model.Event{Instance: instance, Type: queryEventType}, respCh: respCh}
	resp := <-respCh
	return resp.state, resp.err
}

// queryEventType is a sentinel event type handled entirely inside the
// shard loop: it returns the current RunState without applying any
// state-machine transition or appending to the log.
const queryEventType model.EventType = "__query__"

func (m *Manager) shardFor(instance model.WorkflowInstance) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instance.String()))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

func (m *Manager) runHandlerWorker() {
	for job := range m.handlerWork {
		for _, h := range m.handlers {
			h.Handle(job.ctx, job.before, job.after, job.ev)
		}
	}
}

func (sh *shard) run(m *Manager) {
	for req := range sh.reqCh {
		sh.process(m, req)
	}
}

func (sh *shard) process(m *Manager, req request) {
	instance := req.ev.Instance

	if req.ev.Type == queryEventType {
		req.respCh <- response{state: sh.currentOrLoad(req.ctx, instance)}
		return
	}

	before := sh.currentOrLoad(req.ctx, instance)

	after, err := sh.apply(req.ctx, before, req.ev)
	if err != nil {
		var conflict *coreerrors.OptimisticConflictError
		if coreerrors.As(err, &conflict) {
			reloaded, reloadErr := sh.replayer.Replay(req.ctx, instance)
			if reloadErr != nil {
				req.respCh <- response{err: reloadErr}
				return
			}
			sh.states[instance] = reloaded
			after, err = sh.apply(req.ctx, reloaded, req.ev)
		}
		if err != nil {
			req.respCh <- response{err: err}
			return
		}
	}

	sh.states[instance] = after
	if after.State.Terminal() {
		_ = sh.log.RemoveFromIndex(req.ctx, instance)
	}
	req.respCh <- response{state: after}

	job := handlerJob{ctx: req.ctx, before: before, after: after, ev: req.ev}
	select {
	case m.handlerWork <- job:
	default:
		go func() { m.handlerWork <- job }()
	}
}

// apply runs the pure transition and, if legal, durably appends the
// event with the counter one past before's.
func (sh *shard) apply(ctx context.Context, before model.RunState, ev model.Event) (model.RunState, error) {
	nextState, nextData, err := statemachine.Apply(ev.Instance, before.State, before.Data, ev)
	if err != nil {
		return model.RunState{}, err
	}

	ev.Counter = before.Counter + 1
	if ev.TriggerID == "" {
		ev.TriggerID = nextData.TriggerID
	}
	if err := sh.log.Append(ctx, ev.Instance, before.Counter, ev); err != nil {
		return model.RunState{}, err
	}

	return model.RunState{
		Instance:  ev.Instance,
		State:     nextState,
		Data:      nextData,
		Timestamp: ev.Timestamp,
		Counter:   ev.Counter,
	}, nil
}

func (sh *shard) currentOrLoad(ctx context.Context, instance model.WorkflowInstance) model.RunState {
	if rs, ok := sh.states[instance]; ok {
		return rs
	}
	rs, err := sh.replayer.Replay(ctx, instance)
	if err != nil {
		return model.RunState{Instance: instance, State: model.StateNew}
	}
	sh.states[instance] = rs
	return rs
}
