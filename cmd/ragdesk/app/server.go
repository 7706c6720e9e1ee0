// Package app provides the ragdesk server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/cmd/ragdesk/app/options"
	ragsvc "github.com/ragdesk/ragdesk/internal/rag"
	"github.com/ragdesk/ragdesk/pkg/infra/app"
)

const commandDesc = `ragdesk RAG Service

The retrieval-augmented query service for the ragdesk support platform.

This server provides:
  - Document indexing with vector embeddings
  - Workspace-scoped semantic retrieval over Milvus
  - Grounded answer generation with citation markers
  - NDJSON streaming responses
  - Per-workspace rate limits and token budgets`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithReloadFunc(reload(opts)),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return server.Run(ctx)
	}
}

// reload reports the hot-tunable values after a config file change.
// The option structs are shared with the running service, so the new
// values take effect on the next request.
func reload(opts *options.ServerOptions) func() {
	return func() {
		logger.Infow("tunables updated",
			"cache.ttl", opts.CacheOptions.TTL.String(),
			"cache.enabled", opts.CacheOptions.Enabled,
			"quota.window", opts.QuotaOptions.Window.String(),
			"quota.plans", len(opts.QuotaOptions.Plans),
		)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
