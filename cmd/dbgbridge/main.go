package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/bridge"
	"github.com/sebastianm/dbgbridge/internal/config"
	"github.com/sebastianm/dbgbridge/internal/database"
	"github.com/sebastianm/dbgbridge/internal/session"
	"github.com/sebastianm/dbgbridge/internal/store"

	"github.com/benbjohnson/clock"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dbgbridge",
		Short: "Bridge between tool calls and interactive CLI debuggers",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(backendsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve debugger sessions over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the MCP wire; logs go to stderr.
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			router, reg, cleanup, err := newEngine(log)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer reg.Shutdown(context.Background())

			return newMCPServer(log, router).Run(ctx)
		},
	}
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Print the configured backends and their capabilities",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, b := range backend.All() {
				adapter, err := backend.New(b, toBackendConfig(cfg.Backend(string(b))))
				if err != nil {
					return err
				}
				spec := adapter.SpawnSpec("", nil)
				fmt.Printf("%-6s %s %v\n", b, spec.Executable, adapter.Capabilities().Supported)
			}
			return nil
		},
	}
}

// newEngine wires config, adapters, audit store, registry and router.
func newEngine(log *slog.Logger) (*bridge.Router, *session.Registry, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	adapters := make([]backend.Adapter, 0, len(backend.All()))
	for _, b := range backend.All() {
		adapter, err := backend.New(b, toBackendConfig(cfg.Backend(string(b))))
		if err != nil {
			return nil, nil, nil, err
		}
		adapters = append(adapters, adapter)
	}

	cleanup := func() {}
	var recorder session.Recorder = session.NopRecorder{}
	if cfg.DatabasePath != "" {
		db, err := database.Open(context.Background(), cfg.DatabasePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening audit database: %w", err)
		}
		cleanup = func() { _ = db.Close() }
		recorder = store.NewSQLiteStore(log, db)
	}

	clk := clock.New()
	reg := session.NewRegistry(log, clk, session.Settings{
		SentinelPrefix: cfg.SentinelPrefix,
		SettleTimeout:  cfg.SettleTimeout,
		QuitTimeout:    cfg.QuitTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}, nil, recorder, adapters...)

	watchdog := session.NewWatchdog(log, cfg.InterruptGrace)
	router := bridge.NewRouter(log, reg, watchdog, cfg.DefaultTimeout)
	return router, reg, cleanup, nil
}

func toBackendConfig(bc config.BackendConfig) backend.Config {
	return backend.Config{
		Executable: bc.Executable,
		Args:       bc.Args,
		UsePTY:     bc.UsePTY,
	}
}
