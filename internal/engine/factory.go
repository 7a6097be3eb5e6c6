package engine

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/contextual"
	"github.com/gyaneshwarpardhi/argus/internal/eventrisk"
	"github.com/gyaneshwarpardhi/argus/internal/mlrisk"
	"github.com/gyaneshwarpardhi/argus/internal/narrative"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
)

// Factory builds orchestrators from config. Across rebuilds it keeps the
// window aggregator and narrative engine, and with them every actor's
// in-flight state, as long as their settings did not change.
type Factory struct {
	Baselines  threat.BaselineStore
	Reputation eventrisk.Reputation
	Persister  threat.Persister
	// Oracle overrides the HTTP oracle built from ml.endpoint.
	Oracle mlrisk.Oracle
	Logger *slog.Logger

	mu         sync.Mutex
	ctxCfg     contextual.Config
	aggregator *contextual.Aggregator
	templates  []narrative.Template
	shards     int
	narratives *narrative.Engine
}

// Build returns an orchestrator for cfg. The config must already be valid.
func (f *Factory) Build(cfg *config.Config) (*threat.Orchestrator, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ctxCfg := cfg.ContextualConfig()
	if err := ctxCfg.Validate(); err != nil {
		return nil, fmt.Errorf("contextual config: %w", err)
	}
	templates, err := cfg.Templates()
	if err != nil {
		return nil, err
	}

	aggregator := f.aggregator
	if aggregator == nil || !reflect.DeepEqual(ctxCfg, f.ctxCfg) {
		aggregator = contextual.New(ctxCfg, logger)
		if f.aggregator != nil {
			logger.Info("engine: contextual settings changed, window state reset")
		}
	}
	narratives := f.narratives
	if narratives == nil || f.shards != cfg.Engine.Shards || !reflect.DeepEqual(templates, f.templates) {
		narratives, err = narrative.NewEngine(templates, cfg.Engine.Shards, logger)
		if err != nil {
			return nil, err
		}
		if f.narratives != nil {
			logger.Info("engine: narrative templates changed, in-flight narratives reset")
		}
	}

	oracle := f.Oracle
	if oracle == nil && cfg.ML.Endpoint != "" {
		oracle = mlrisk.NewHTTPOracle(cfg.ML.Endpoint, cfg.ML.Timeout)
	}

	o := threat.New(cfg.ScoringConfig(), threat.Deps{
		Baselines:  f.Baselines,
		EventRisk:  eventrisk.New(cfg.EventRiskConfig(), f.Reputation, logger),
		Contextual: aggregator,
		ML:         mlrisk.New(oracle, cfg.MLConfig(), logger),
		Narratives: narratives,
		Persister:  f.Persister,
	}, logger)

	f.ctxCfg, f.aggregator = ctxCfg, aggregator
	f.templates, f.shards, f.narratives = templates, cfg.Engine.Shards, narratives
	return o, nil
}

// Follow rebuilds and swaps the scorer whenever loader reloads. A config
// that fails to build leaves the current scorer in place.
func (e *Engine) Follow(loader *config.Loader, f *Factory) {
	loader.OnChange(func(cfg *config.Config) {
		o, err := f.Build(cfg)
		if err != nil {
			e.logger.Warn("engine: hot-reload skipped", "err", err)
			return
		}
		e.SwapScorer(o)
		e.logger.Info("engine: scorer hot-reloaded",
			"version", cfg.Version, "templates", len(o.Narratives().Templates()))
	})
}
