package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gyaneshwarpardhi/argus/internal/api"
	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/engine"
	"github.com/gyaneshwarpardhi/argus/internal/store"
	"github.com/gyaneshwarpardhi/argus/internal/telemetry"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
	"github.com/gyaneshwarpardhi/argus/internal/threatintel"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfgPath := flag.String("config", "configs/argus.yaml", "Path to YAML or TOML config")
	flag.Parse()

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *cfgPath, logger); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("ARGUS_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("ARGUS_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfgPath string, logger *slog.Logger) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	slog.Info("argus starting", "version", version, "addr", cfg.Server.Addr, "config", cfgPath)

	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// ── Storage ──────────────────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := store.ApplyMigrations(ctx, st.DB()); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	persister := threat.NewAsyncPersister(st, cfg.Storage.PersistWorkers, cfg.Storage.PersistQueue,
		cfg.Storage.PersistTimeout, logger)

	// ── Engine ───────────────────────────────────────────────────────────────
	factory := &engine.Factory{
		Baselines:  st,
		Reputation: threatintel.NewReputation(st),
		Persister:  persister,
		Logger:     logger,
	}
	scorer, err := factory.Build(cfg)
	if err != nil {
		return fmt.Errorf("build scorer: %w", err)
	}
	slog.Info("scorer built", "templates", len(scorer.Narratives().Templates()), "ml", cfg.ML.Endpoint != "")

	engCtx, engCancel := context.WithCancel(context.Background())
	defer engCancel()
	eng := engine.New(engCtx, scorer, cfg.Engine, logger)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	eng.Follow(loader, factory)
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Reputation scanner ───────────────────────────────────────────────────
	scanCtx, scanCancel := context.WithCancel(ctx)
	defer scanCancel()
	scanDone := make(chan struct{})
	if cfg.ThreatIntel.APIKey != "" {
		client := threatintel.NewClient(cfg.ThreatIntel.Endpoint, cfg.ThreatIntel.APIKey, 30*time.Second)
		scanner := threatintel.NewScanner(st, client, cfg.ScannerConfig(), logger)
		go func() {
			defer close(scanDone)
			if err := scanner.Run(scanCtx); err != nil {
				slog.Error("reputation scanner stopped", "err", err)
			}
		}()
	} else {
		close(scanDone)
		slog.Info("reputation scanner disabled (no API key)")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, loader, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, func() {
		eng.Shutdown()
		persister.Close()
		scanCancel()
		<-scanDone
	})
}

// serve runs srv until ctx is cancelled or the listener fails. Either way the
// server is shut down and drain runs before serve returns.
func serve(ctx context.Context, srv *http.Server, drain func()) error {
	errC := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errC:
		serveErr = fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	drain()
	slog.Info("goodbye")
	return serveErr
}
