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

// Package corelog provides the structured logging conventions shared by
// every component of the scheduler core.
package corelog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format is the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys, kept consistent across every component logger.
const (
	InstanceKey   = "instance"
	WorkflowKey   = "workflow"
	TriggerIDKey  = "trigger_id"
	BackfillIDKey = "backfill_id"
	CounterKey    = "counter"
	StateKey      = "state"
	ComponentKey  = "component"
	RequestIDKey  = "request_id"
)

// Config holds logger construction options.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from environment variables:
//   - WORKFLOWCORE_LOG_LEVEL (debug, info, warn, error)
//   - WORKFLOWCORE_LOG_FORMAT (json, text)
//   - WORKFLOWCORE_LOG_SOURCE (1 to add file:line)
func FromEnv() *Config {
	cfg := DefaultConfig()
	if level := os.Getenv("WORKFLOWCORE_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("WORKFLOWCORE_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("WORKFLOWCORE_LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

// New builds a slog.Logger from cfg. A nil cfg yields DefaultConfig().
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent scopes logger to a named subsystem (e.g. "scheduler", "backfill").
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(ComponentKey, component))
}

// WithInstance scopes logger to a single WorkflowInstance.
func WithInstance(logger *slog.Logger, workflowID, parameter string) *slog.Logger {
	return logger.With(
		slog.String(WorkflowKey, workflowID),
		slog.String(InstanceKey, parameter),
	)
}

// WithRequestID scopes logger to an inbound HTTP request.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String(RequestIDKey, requestID))
}

// WithBackfill scopes logger to a backfill run.
func WithBackfill(logger *slog.Logger, backfillID string) *slog.Logger {
	return logger.With(slog.String(BackfillIDKey, backfillID))
}
