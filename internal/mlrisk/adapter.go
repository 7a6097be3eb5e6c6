// Package mlrisk turns an event into a fixed-order feature vector and asks an
// external model for an anomaly probability. Any failure scores zero.
package mlrisk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/metrics"
)

type Config struct {
	Timeout     time.Duration
	Location    *time.Location
	WindowWraps bool
}

func DefaultConfig() Config {
	return Config{Timeout: 500 * time.Millisecond, Location: time.UTC, WindowWraps: true}
}

type Result struct {
	Probability float64
	// Reason explains a fail-closed zero; empty on success.
	Reason string
}

type Adapter struct {
	oracle Oracle
	cfg    Config
	logger *slog.Logger
}

func New(oracle Oracle, cfg Config, logger *slog.Logger) *Adapter {
	if oracle == nil {
		oracle = NoopOracle{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{oracle: oracle, cfg: cfg, logger: logger}
}

// Score returns the anomaly probability for in, bounded by the configured
// deadline. Errors, timeouts and NaN yield 0; out-of-range values are clamped.
func (a *Adapter) Score(ctx context.Context, in Input) Result {
	features := Features(in, a.cfg.Location, a.cfg.WindowWraps)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	type prediction struct {
		p   float64
		err error
	}
	done := make(chan prediction, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- prediction{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		p, err := a.oracle.Predict(ctx, features)
		done <- prediction{p, err}
	}()

	var (
		p   float64
		err error
	)
	select {
	case r := <-done:
		p, err = r.p, r.err
	case <-ctx.Done():
		err = fmt.Errorf("deadline %s exceeded: %w", a.cfg.Timeout, ctx.Err())
	}
	if err != nil {
		metrics.OracleFailures.Inc()
		a.logger.Warn("mlrisk: oracle failed", "event_id", in.Event.ID, "err", err)
		return Result{Reason: fmt.Sprintf("MR: oracle unavailable: %v", err)}
	}
	if math.IsNaN(p) {
		metrics.OracleFailures.Inc()
		a.logger.Warn("mlrisk: oracle returned NaN", "event_id", in.Event.ID)
		return Result{Reason: "MR: oracle returned NaN"}
	}
	return Result{Probability: min(1, max(0, p))}
}
