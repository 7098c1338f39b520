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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/workflowcore/workflowcore/internal/config"
	"github.com/workflowcore/workflowcore/internal/core"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		mode        = flag.String("mode", "", "Override mode (development, production)")
		httpPort    = flag.Int("http-port", 0, "Override HTTP listen port")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("workflowcored %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	c, err := core.New(cfg, core.Options{Version: version})
	if err != nil {
		slog.Error("failed to assemble scheduler core", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived signal %v, shutting down...\n", sig)
		cancel()
		if err := c.Shutdown(context.Background()); err != nil {
			slog.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			slog.Error("scheduler core error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
