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

// Package core wires every component of the scheduler core into one
// running process: the event log and document store backends selected
// by config.Mode, the sharded state manager and its output handlers,
// the container runner adapter, the submission rate limiter, the
// scheduler and natural trigger tick loops, the backfill advancer, and
// the HTTP surface. It owns the process lifecycle: Start blocks until
// the context is cancelled or a background component fails, and
// Shutdown drains in the reverse order things were started.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workflowcore/workflowcore/internal/api"
	"github.com/workflowcore/workflowcore/internal/auth"
	"github.com/workflowcore/workflowcore/internal/backfill"
	"github.com/workflowcore/workflowcore/internal/config"
	"github.com/workflowcore/workflowcore/internal/corelog"
	"github.com/workflowcore/workflowcore/internal/eventlog"
	eventlogmem "github.com/workflowcore/workflowcore/internal/eventlog/memory"
	"github.com/workflowcore/workflowcore/internal/eventlog/redislog"
	"github.com/workflowcore/workflowcore/internal/handlers"
	"github.com/workflowcore/workflowcore/internal/httputil"
	"github.com/workflowcore/workflowcore/internal/publisher"
	"github.com/workflowcore/workflowcore/internal/ratelimit"
	"github.com/workflowcore/workflowcore/internal/runner"
	"github.com/workflowcore/workflowcore/internal/runner/local"
	"github.com/workflowcore/workflowcore/internal/scheduler"
	"github.com/workflowcore/workflowcore/internal/statemanager"
	"github.com/workflowcore/workflowcore/internal/store"
	storemem "github.com/workflowcore/workflowcore/internal/store/memory"
	"github.com/workflowcore/workflowcore/internal/store/postgres"
	"github.com/workflowcore/workflowcore/internal/tracing"
	"github.com/workflowcore/workflowcore/internal/trigger"
)

// Options carries build-time values the daemon reports but does not
// otherwise act on.
type Options struct {
	Version string
}

// Core is the assembled scheduler core process.
type Core struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	eventLog eventlog.Store
	docStore store.Store

	manager   *statemanager.Manager
	limiter   *ratelimit.Limiter
	adapter   runner.Adapter
	scheduler *scheduler.Scheduler
	trigger   *trigger.Manager
	backfill  *backfill.Engine

	redisClient *redis.Client
	tracer      *tracing.Provider

	server *http.Server
	ln     net.Listener

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New assembles a Core from cfg without starting any background work.
func New(cfg *config.Config, opts Options) (*Core, error) {
	logCfg := corelog.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = corelog.Format(cfg.Log.Format)
	logger := corelog.WithComponent(corelog.New(logCfg), "core")

	c := &Core{cfg: cfg, opts: opts, logger: logger}

	if err := c.buildStores(); err != nil {
		return nil, err
	}

	publisherHandler := c.buildPublisherHandler()

	c.limiter = ratelimit.New(c.docStore, cfg.Scheduler.SubmissionRatePerSecond, cfg.Scheduler.SubmissionBurst)
	c.adapter = ratelimit.Wrap(local.New(), c.limiter)

	chain := []statemanager.Handler{
		&handlers.TransitionLogger{Logger: corelog.WithComponent(logger, "transitions")},
		&handlers.MonitoringHandler{},
		&handlers.DequeueHandler{Limiter: c.limiter, Dispatcher: nil, Logger: corelog.WithComponent(logger, "dequeue")},
		&handlers.ExecutionDescriptionHandler{Workflows: c.docStore, Dispatcher: nil, Logger: corelog.WithComponent(logger, "execution-description")},
		&handlers.DockerRunnerHandler{Workflows: c.docStore, Adapter: c.adapter, Dispatcher: nil, Logger: corelog.WithComponent(logger, "runner")},
		&handlers.TerminationHandler{Adapter: c.adapter, Dispatcher: nil, Logger: corelog.WithComponent(logger, "termination")},
		&handlers.RetryPolicyHandler{MaxRetries: defaultMaxRetries, Dispatcher: nil, Logger: corelog.WithComponent(logger, "retry-policy")},
	}
	if publisherHandler != nil {
		chain = append(chain, publisherHandler)
	}

	c.manager = statemanager.New(c.eventLog, chain, statemanager.Config{
		Shards:         cfg.Scheduler.StateManagerShards,
		HandlerWorkers: cfg.Scheduler.HandlerExecutorWorkers,
	})
	wireDispatcher(chain, c.manager)

	c.scheduler = scheduler.New(c.eventLog, c.manager, c.manager, cfg, corelog.WithComponent(logger, "scheduler"))
	c.trigger = trigger.New(c.docStore, c.manager, corelog.WithComponent(logger, "trigger"))
	c.backfill = backfill.New(c.docStore, c.docStore, c.eventLog, c.manager, corelog.WithComponent(logger, "backfill"))

	tracer, err := tracing.New(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("build tracer: %w", err)
	}
	c.tracer = tracer

	backfillHandlers := &api.BackfillHandlers{Engine: c.backfill, Backfills: c.docStore, Logger: corelog.WithComponent(logger, "api")}
	health := &api.HealthHandler{Scheduler: c.scheduler, Trigger: c.trigger, Storage: c.docStore, Version: opts.Version}
	authMW := auth.NewMiddleware(auth.Config{Enabled: cfg.Auth.Enabled, Whitelist: cfg.Auth.Whitelist})
	corsCfg := httputil.CORSConfig{Enabled: cfg.CORS.Enabled, AllowedOrigins: cfg.CORS.AllowedOrigins}
	router := api.NewRouter(backfillHandlers, health, authMW, corsCfg, c.tracer, corelog.WithComponent(logger, "http"))

	c.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return c, nil
}

// defaultMaxRetries bounds RetryPolicyHandler. The same budget applies
// to every workflow; neither the config file nor the workflow record
// can change it.
const defaultMaxRetries = 5

func (c *Core) buildStores() error {
	switch c.cfg.Mode {
	case config.ModeProduction:
		client := redis.NewClient(&redis.Options{
			Addr:     c.cfg.Stores.EventStore.Addr,
			Password: c.cfg.Stores.EventStore.Password,
			DB:       c.cfg.Stores.EventStore.DB,
		})
		c.redisClient = client
		c.eventLog = redislog.New(client)

		pgStore, err := postgres.New(context.Background(), c.cfg.Stores.DocumentStore.DSN)
		if err != nil {
			return fmt.Errorf("connect document store: %w", err)
		}
		c.docStore = pgStore
	default:
		c.eventLog = eventlogmem.New()
		c.docStore = storemem.New(c.cfg.Scheduler.SubmissionRatePerSecond)
	}
	return nil
}

// buildPublisherHandler wires a Redis pub/sub publisher when a Redis
// event store is configured. Development mode, with no Redis
// connection, runs without a publisher: there is nothing external to
// notify and PublisherHandler would have no transport to use.
func (c *Core) buildPublisherHandler() *handlers.PublisherHandler {
	if c.redisClient == nil {
		return nil
	}
	pub := publisher.NewRedis(c.redisClient, "workflowcore:terminations")
	return &handlers.PublisherHandler{Publisher: pub, Logger: corelog.WithComponent(c.logger, "publisher")}
}

// wireDispatcher backfills the Dispatcher field every handler in chain
// needs, now that the Manager which satisfies it exists. Handlers are
// constructed before the Manager because the Manager's constructor
// needs the finished handler slice.
func wireDispatcher(chain []statemanager.Handler, mgr *statemanager.Manager) {
	for _, h := range chain {
		switch v := h.(type) {
		case *handlers.DequeueHandler:
			v.Dispatcher = mgr
		case *handlers.ExecutionDescriptionHandler:
			v.Dispatcher = mgr
		case *handlers.DockerRunnerHandler:
			v.Dispatcher = mgr
		case *handlers.TerminationHandler:
			v.Dispatcher = mgr
		case *handlers.RetryPolicyHandler:
			v.Dispatcher = mgr
		}
	}
}

// Start runs every background loop and the HTTP server, blocking until
// ctx is cancelled or a component fails unrecoverably.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("core: already started")
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.manager.Bootstrap(runCtx, c.eventLog); err != nil {
		cancel()
		return fmt.Errorf("bootstrap state manager: %w", err)
	}

	c.runBackground(runCtx, "scheduler", func() { c.scheduler.Run(runCtx, c.cfg.Scheduler.SchedulerTickInterval) })
	c.runBackground(runCtx, "trigger", func() { c.trigger.Run(runCtx, c.cfg.Scheduler.TriggerManagerTickInterval) })
	c.runBackground(runCtx, "rate-limit-refresh", func() { c.limiter.RunRefreshLoop(runCtx, c.cfg.Scheduler.RuntimeConfigUpdateInterval) })
	c.runBackground(runCtx, "backfill-advancer", func() { c.runBackfillAdvancer(runCtx) })

	ln, err := net.Listen("tcp", c.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listen %s: %w", c.server.Addr, err)
	}
	c.ln = ln

	c.logger.Info("scheduler core starting",
		"version", c.opts.Version,
		"mode", string(c.cfg.Mode),
		"addr", ln.Addr().String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// runBackground launches fn in a goroutine tracked by the drain
// WaitGroup, recovering any panic so one broken loop cannot take the
// others down with it.
func (c *Core) runBackground(ctx context.Context, name string, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("background loop panicked", "loop", name, "panic", r)
			}
		}()
		fn()
	}()
}

// runBackfillAdvancer periodically advances every backfill that has not
// yet triggered every partition in its range.
func (c *Core) runBackfillAdvancer(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Scheduler.BackfillAdvancerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := c.docStore.ListBackfills(ctx, "", false)
			if err != nil {
				c.logger.Error("backfill advancer could not list backfills", "error", err)
				continue
			}
			ids := make([]string, 0, len(active))
			for _, b := range active {
				if !b.AllTriggered {
					ids = append(ids, b.ID)
				}
			}
			c.backfill.AdvanceAll(ctx, ids)
		}
	}
}

// Shutdown stops the HTTP server and every background loop, waiting up
// to the context's deadline for them to exit.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}

	c.logger.Info("scheduler core shutting down")

	if c.server != nil {
		c.server.SetKeepAlivesEnabled(false)
		if err := c.server.Shutdown(ctx); err != nil {
			c.logger.Error("http server shutdown error", "error", err)
		}
	}

	if c.cancel != nil {
		c.cancel()
	}

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		c.logger.Warn("shutdown deadline exceeded waiting for background loops")
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.Error("redis client close error", "error", err)
		}
	}
	if closer, ok := c.docStore.(interface{ Close() }); ok {
		closer.Close()
	}
	if c.tracer != nil {
		if err := c.tracer.Shutdown(ctx); err != nil {
			c.logger.Error("tracer shutdown error", "error", err)
		}
	}

	c.started = false
	c.logger.Info("scheduler core stopped")
	return nil
}
