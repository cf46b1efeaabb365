// cmd/engramd is the maintenance entry point for the engram memory
// evolution engine. It wires the configured storage backend through the
// scheduler and runs one maintenance pass for a scope.
//
// Startup sequence:
//  1. Load configuration from environment variables (ENGRAM_ prefix),
//     optionally overlaid with a YAML file.
//  2. Open the sqlite or postgres store and apply the schema.
//  3. Build the text service and wrap it with the circuit breaker.
//  4. Run the requested maintenance mode and print the run report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/config"
	"github.com/baladithyab/engram-sub001/internal/engine"
	"github.com/baladithyab/engram-sub001/internal/llm"
	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/internal/storage/postgres"
	"github.com/baladithyab/engram-sub001/internal/storage/sqlite"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

func main() {
	mode := flag.String("mode", "full", "maintenance mode: light, full, or reflect")
	scope := flag.String("scope", "project", "memory scope: session, project, or user")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engramd: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*mode, *scope, logger); err != nil {
		logger.Fatal("maintenance run failed", zap.Error(err))
	}
}

func run(mode, scope string, logger *zap.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !types.IsValidScope(types.Scope(scope)) {
		return fmt.Errorf("unknown scope %q", scope)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := llm.NewTextService(cfg.Text.Provider, cfg.Text.BaseURL, cfg.Text.Model)
	if err != nil {
		return err
	}
	if text != nil {
		text = llm.NewBreakerServiceWithConfig(text, llm.BreakerConfig{
			MaxFailures: uint32(cfg.Text.BreakerMaxFailures),
			Timeout:     time.Duration(cfg.Text.BreakerTimeoutSeconds) * time.Second,
		})
	}

	scheduler := engine.NewScheduler(store, text, cfg.Engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := scheduler.RunMaintenance(ctx, types.Scope(scope), engine.MaintenanceMode(mode))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render run report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		store, err := sqlite.New(filepath.Join(cfg.Storage.DataPath, "engram.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	}
}
