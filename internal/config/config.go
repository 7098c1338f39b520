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

// Package config loads the scheduler core's runtime configuration from
// a YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects production vs. development behavior (e.g. which store
// backends are permitted).
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// Config is the single configuration root for the daemon.
type Config struct {
	Mode Mode `yaml:"mode"`

	// StaleStateTTLs maps a RunState state name to its ISO-8601
	// duration TTL; "default" supplies the fallback for any state not
	// otherwise listed.
	StaleStateTTLs map[string]string `yaml:"stale-state-ttls"`

	Cluster ClusterConfig `yaml:"cluster"`
	Stores  StoresConfig  `yaml:"stores"`

	HTTPPort int `yaml:"http-port"`

	Auth    AuthConfig    `yaml:"auth"`
	CORS    CORSConfig    `yaml:"cors"`
	Tracing TracingConfig `yaml:"tracing"`

	Log LogConfig `yaml:"log"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	MetricsListenAddr string `yaml:"metrics-listen-addr"`
}

// ClusterConfig holds the coordinates of the cluster the container
// runner adapter submits executions into.
type ClusterConfig struct {
	ProjectID string `yaml:"project-id"`
	Zone      string `yaml:"zone"`
	ClusterID string `yaml:"cluster-id"`
	Namespace string `yaml:"namespace"`
}

// StoresConfig holds the event-log and document-store coordinates.
type StoresConfig struct {
	EventStore    RedisConfig    `yaml:"event-store"`
	DocumentStore PostgresConfig `yaml:"document-store"`
}

// RedisConfig addresses the Redis Streams-backed event log.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig addresses the Postgres-backed document store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig lists the API keys permitted to call the HTTP surface.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Whitelist []string `yaml:"whitelist"`
}

// CORSConfig enables cross-origin requests against the HTTP surface,
// for deployments where a browser dashboard calls it directly.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed-origins"`
}

// TracingConfig controls distributed-trace export for the HTTP path. Disabled by default; when enabled, spans are exported via
// OTLP/HTTP to the configured collector endpoint.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service-name"`
	OTLPEndpoint string  `yaml:"otlp-endpoint"`
	SampleRatio  float64 `yaml:"sample-ratio"`
}

// LogConfig configures the ambient structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig configures tick intervals and pool sizes.
type SchedulerConfig struct {
	SchedulerTickInterval        time.Duration `yaml:"scheduler-tick-interval"`
	TriggerManagerTickInterval   time.Duration `yaml:"trigger-manager-tick-interval"`
	RuntimeConfigUpdateInterval  time.Duration `yaml:"runtime-config-update-interval"`
	BackfillAdvancerTickInterval time.Duration `yaml:"backfill-advancer-tick-interval"`
	StateManagerShards           int           `yaml:"state-manager-shards"`
	HandlerExecutorWorkers       int           `yaml:"handler-executor-workers"`
	SubmissionRatePerSecond      float64       `yaml:"submission-rate-per-second"`
	SubmissionBurst              int           `yaml:"submission-burst"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Mode: ModeDevelopment,
		StaleStateTTLs: map[string]string{
			"default":     "PT10M",
			"SUBMITTED":   "PT5M",
			"RUNNING":     "PT6H",
			"SUBMITTING":  "PT2M",
		},
		Stores: StoresConfig{
			EventStore:    RedisConfig{Addr: "localhost:6379"},
			DocumentStore: PostgresConfig{DSN: "postgres://localhost:5432/workflowcore?sslmode=disable"},
		},
		HTTPPort: 8080,
		Tracing:  TracingConfig{ServiceName: "workflowcore", SampleRatio: 0.1},
		Log:      LogConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{
			SchedulerTickInterval:        2 * time.Second,
			TriggerManagerTickInterval:   1 * time.Second,
			RuntimeConfigUpdateInterval:  5 * time.Second,
			BackfillAdvancerTickInterval: 1 * time.Second,
			StateManagerShards:           16,
			HandlerExecutorWorkers:       64,
			SubmissionRatePerSecond:      50,
			SubmissionBurst:              50,
		},
		MetricsListenAddr: ":9090",
	}
}

// Load reads a YAML config file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overlays WORKFLOWCORE_* environment variables onto cfg.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("WORKFLOWCORE_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("WORKFLOWCORE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("WORKFLOWCORE_EVENT_STORE_ADDR"); v != "" {
		c.Stores.EventStore.Addr = v
	}
	if v := os.Getenv("WORKFLOWCORE_DOCUMENT_STORE_DSN"); v != "" {
		c.Stores.DocumentStore.DSN = v
	}
	if v := os.Getenv("WORKFLOWCORE_AUTH_WHITELIST"); v != "" {
		c.Auth.Whitelist = strings.Split(v, ",")
		c.Auth.Enabled = true
	}
	if v := os.Getenv("WORKFLOWCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the config for internal consistency. Production mode
// requires real store coordinates; every key of StaleStateTTLs
// (including "default") must parse as an ISO-8601 duration.
func (c *Config) Validate() error {
	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return fmt.Errorf("config: invalid mode %q", c.Mode)
	}

	if c.Mode == ModeProduction {
		if c.Stores.EventStore.Addr == "" {
			return fmt.Errorf("config: stores.event-store.addr is required in production mode")
		}
		if c.Stores.DocumentStore.DSN == "" {
			return fmt.Errorf("config: stores.document-store.dsn is required in production mode")
		}
	}

	if _, ok := c.StaleStateTTLs["default"]; !ok {
		return fmt.Errorf("config: stale-state-ttls.default is required")
	}
	for state, ttl := range c.StaleStateTTLs {
		if _, err := ParseISO8601Duration(ttl); err != nil {
			return fmt.Errorf("config: stale-state-ttls[%s]: %w", state, err)
		}
	}

	if c.Scheduler.StateManagerShards <= 0 {
		return fmt.Errorf("config: scheduler.state-manager-shards must be positive")
	}
	if c.Scheduler.HandlerExecutorWorkers <= 0 {
		return fmt.Errorf("config: scheduler.handler-executor-workers must be positive")
	}
	if c.Scheduler.SubmissionRatePerSecond <= 0 {
		return fmt.Errorf("config: scheduler.submission-rate-per-second must be positive")
	}

	return nil
}

// TTLFor returns the configured TTL for state, falling back to the
// "default" entry.
func (c *Config) TTLFor(state string) (time.Duration, error) {
	raw, ok := c.StaleStateTTLs[state]
	if !ok {
		raw = c.StaleStateTTLs["default"]
	}
	return ParseISO8601Duration(raw)
}
