package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/narrative"
)

// Validate checks the config for:
//   - Required fields and a resolvable timezone
//   - Non-positive engine and storage sizes
//   - Unknown event types in base_scores
//   - Contextual windows that cannot hold every derived signal
//   - Invalid or duplicate narrative templates
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", cfg.Timezone, err))
	}
	if cfg.Engine.Partitions < 0 {
		errs = append(errs, fmt.Sprintf("engine.partitions must not be negative, got %d", cfg.Engine.Partitions))
	}
	if cfg.Engine.QueueDepth < 0 {
		errs = append(errs, fmt.Sprintf("engine.queue_depth must not be negative, got %d", cfg.Engine.QueueDepth))
	}
	if cfg.Engine.EventTimeout < 0 {
		errs = append(errs, "engine.event_timeout must not be negative")
	}
	if cfg.Storage.PersistWorkers < 0 || cfg.Storage.PersistQueue < 0 {
		errs = append(errs, "storage.persist_workers and storage.persist_queue must not be negative")
	}
	if cfg.Baseline.Concurrency < 0 {
		errs = append(errs, "baseline.concurrency must not be negative")
	}

	for name, score := range cfg.EventRisk.BaseScores {
		if !event.Type(name).Known() {
			errs = append(errs, fmt.Sprintf("event_risk.base_scores: unknown event type %q", name))
		}
		if score < 0 {
			errs = append(errs, fmt.Sprintf("event_risk.base_scores[%s]: must not be negative", name))
		}
	}
	if m := cfg.EventRisk.OffHoursMultiplier; m != nil && *m < 1 {
		errs = append(errs, fmt.Sprintf("event_risk.off_hours_multiplier must be >= 1, got %v", *m))
	}
	if d := cfg.ThreatIntel.MinInterval; d != nil && *d < 0 {
		errs = append(errs, "threat_intel.min_interval must not be negative")
	}

	if err := cfg.ContextualConfig().Validate(); err != nil {
		errs = append(errs, splitJoined("contextual", err)...)
	}

	sc := cfg.ScoringConfig()
	if !(sc.MediumThreshold <= sc.HighThreshold && sc.HighThreshold <= sc.CriticalThreshold) {
		errs = append(errs, fmt.Sprintf("scoring: thresholds must satisfy medium <= high <= critical, got %v/%v/%v",
			sc.MediumThreshold, sc.HighThreshold, sc.CriticalThreshold))
	}
	if sc.ConfidenceThreshold < 0 || sc.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("scoring.confidence_threshold must be within [0,1], got %v", sc.ConfidenceThreshold))
	}

	templates, err := cfg.Templates()
	if err != nil {
		errs = append(errs, err.Error())
	} else if err := narrative.ValidateTemplates(templates); err != nil {
		errs = append(errs, splitJoined("narratives", err)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// splitJoined flattens an errors.Join result into one entry per line.
func splitJoined(prefix string, err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, prefix+": "+line)
		}
	}
	return out
}
