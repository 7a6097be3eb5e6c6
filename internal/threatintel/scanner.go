package threatintel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/store"
)

type scanStore interface {
	ListUnscannedFiles(ctx context.Context, limit int) ([]store.FileRef, error)
	UpsertReputation(ctx context.Context, r store.Reputation) error
	RecordScanFailure(ctx context.Context, fileID, reason string) error
}

type reportFetcher interface {
	FileReport(ctx context.Context, md5 string) (Report, error)
}

type ScannerConfig struct {
	// MinInterval is the minimum spacing between API requests.
	MinInterval time.Duration
	// PollInterval is the pause between passes once the backlog is empty.
	PollInterval time.Duration
	BatchSize    int
}

func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{MinInterval: 20 * time.Second, PollInterval: 5 * time.Minute, BatchSize: 50}
}

// Scanner fills the reputation cache for journaled files that have a
// checksum but no verdict yet.
type Scanner struct {
	store  scanStore
	client reportFetcher
	cfg    ScannerConfig
	logger  *slog.Logger
	limiter *rate.Limiter
}

func NewScanner(s scanStore, client reportFetcher, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultScannerConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultScannerConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Scanner{store: s, client: client, cfg: cfg, logger: logger, limiter: rate.NewLimiter(limit, 1)}
}

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("threatintel: scanner started", "min_interval", s.cfg.MinInterval, "poll_interval", s.cfg.PollInterval)
	for {
		n, err := s.ScanOnce(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Error("threatintel: scan pass failed", "err", err)
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// ScanOnce scans one batch and returns the number of verdicts stored.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	files, err := s.store.ListUnscannedFiles(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unscanned files: %w", err)
	}
	stored := 0
	for _, f := range files {
		if err := s.limiter.Wait(ctx); err != nil {
			return stored, err
		}
		report, err := s.client.FileReport(ctx, f.MD5Checksum)
		if errors.Is(err, ErrRateLimited) {
			metrics.ReputationScans.WithLabelValues("rate_limited").Inc()
			s.logger.Warn("threatintel: rate limited, ending pass", "file_id", f.FileID)
			return stored, nil
		}
		if err != nil {
			metrics.ReputationScans.WithLabelValues("error").Inc()
			s.logger.Warn("threatintel: file report failed", "file_id", f.FileID, "err", err)
			if rerr := s.store.RecordScanFailure(ctx, f.FileID, err.Error()); rerr != nil {
				return stored, fmt.Errorf("record scan failure %s: %w", f.FileID, rerr)
			}
			continue
		}
		metrics.ReputationScans.WithLabelValues("ok").Inc()
		if err := s.store.UpsertReputation(ctx, store.Reputation{
			FileID:      f.FileID,
			MD5Checksum: f.MD5Checksum,
			Positives:   report.Positives,
			Found:       report.Found,
		}); err != nil {
			return stored, fmt.Errorf("store reputation %s: %w", f.FileID, err)
		}
		if report.Positives > 0 {
			s.logger.Warn("threatintel: malicious file detected", "file_id", f.FileID, "positives", report.Positives)
		}
		stored++
	}
	return stored, nil
}
