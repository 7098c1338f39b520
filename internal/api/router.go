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

// Package api wires the HTTP surface: routing, request-id/auth
// middleware, and the backfill and health handlers.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workflowcore/workflowcore/internal/auth"
	"github.com/workflowcore/workflowcore/internal/httputil"
	"github.com/workflowcore/workflowcore/internal/tracing"
)

// Router wraps an http.ServeMux with the scheduler core's middleware
// chain and route table.
type Router struct {
	mux    *http.ServeMux
	auth   *auth.Middleware
	cors   func(http.Handler) http.Handler
	tracer *tracing.Provider
	logger *slog.Logger
}

// NewRouter builds the /api/v3 route table. cors may be zero-valued to
// leave cross-origin requests disabled. tracer may be nil to leave
// request spans unstarted.
func NewRouter(backfills *BackfillHandlers, health *HealthHandler, authMW *auth.Middleware, corsCfg httputil.CORSConfig, tracer *tracing.Provider, logger *slog.Logger) *Router {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v3/backfills", backfills.List)
	mux.HandleFunc("POST /api/v3/backfills", backfills.Create)
	mux.HandleFunc("GET /api/v3/backfills/{id}", backfills.Get)
	mux.HandleFunc("PUT /api/v3/backfills/{id}", backfills.Update)
	mux.HandleFunc("DELETE /api/v3/backfills/{id}", backfills.Halt)

	mux.HandleFunc("GET /api/v3/health", health.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Router{mux: mux, auth: authMW, cors: httputil.CORS(corsCfg), tracer: tracer, logger: logger}
}

// ServeHTTP implements http.Handler, applying tracing, CORS, request-id
// and auth middleware around the route table.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux
	if r.auth != nil {
		handler = r.auth.Wrap(handler)
	}
	handler = r.withLogging(handler)
	handler = httputil.RequestIDMiddleware(handler)
	if r.cors != nil {
		handler = r.cors(handler)
	}
	if r.tracer != nil {
		handler = r.tracer.Middleware(handler)
	}
	handler.ServeHTTP(w, req)
}

func (r *Router) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		if r.logger != nil {
			r.logger.Info("request completed",
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", httputil.RequestID(req.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	})
}
