// Command baseline recomputes every actor's behavioral baseline from the
// event journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/argus.yaml", "Path to YAML or TOML config")
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("ARGUS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, logger); err != nil {
		slog.Error("baseline run failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, logger *slog.Logger) error {
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := store.ApplyMigrations(ctx, st.DB()); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	start := time.Now()
	n, err := baseline.NewAnalyzer(st, st, loc, cfg.Baseline.Concurrency, logger).Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("baselines updated", "actors", n, "timezone", loc.String(), "duration", time.Since(start))
	return nil
}
