package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/contextual"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/eventrisk"
	"github.com/gyaneshwarpardhi/argus/internal/mlrisk"
	"github.com/gyaneshwarpardhi/argus/internal/narrative"
	"github.com/gyaneshwarpardhi/argus/internal/pattern"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
	"github.com/gyaneshwarpardhi/argus/internal/threatintel"
)

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Wraps reports whether inverted active windows wrap past midnight.
func (c *Config) Wraps() bool {
	return c.ActiveWindowWraps == nil || *c.ActiveWindowWraps
}

func (c *Config) location() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// EventRiskConfig overlays the event_risk section on the built-in defaults.
func (c *Config) EventRiskConfig() eventrisk.Config {
	out := eventrisk.DefaultConfig()
	in := c.EventRisk
	for name, score := range in.BaseScores {
		out.BaseScores[event.Type(name)] = score
	}
	setFloat(&out.KnownMalwareScore, in.KnownMalwareScore)
	setFloat(&out.SuspiciousExtensionScore, in.SuspiciousExtensionScore)
	setFloat(&out.MimeMismatchScore, in.MimeMismatchScore)
	setFloat(&out.OffHoursMultiplier, in.OffHoursMultiplier)
	if len(in.SuspiciousExtensions) > 0 {
		out.SuspiciousExtensions = lowerAll(in.SuspiciousExtensions)
	}
	for ext, mime := range in.ExpectedMimeTypes {
		out.ExpectedMimeTypes[strings.ToLower(ext)] = mime
	}
	out.WindowWraps = c.Wraps()
	out.Location = c.location()
	return out
}

// ContextualConfig overlays the contextual section on the built-in defaults.
func (c *Config) ContextualConfig() contextual.Config {
	out := contextual.DefaultConfig()
	in := c.Contextual
	setDuration(&out.Window, in.Window)
	setDuration(&out.BulkWindow, in.BulkWindow)
	setDuration(&out.BurstWindow, in.BurstWindow)
	setInt(&out.BulkCopyThreshold, in.BulkCopyThreshold)
	setInt(&out.BulkModifyThreshold, in.BulkModifyThreshold)
	setInt(&out.BulkDeleteThreshold, in.BulkDeleteThreshold)
	setInt(&out.BurstThreshold, in.BurstThreshold)
	setDuration(&out.DormantAge, in.DormantAge)
	setDuration(&out.DormantQuiet, in.DormantQuiet)
	setFloat(&out.DormantScore, in.DormantScore)
	setFloat(&out.ArchiveScore, in.ArchiveScore)
	setFloat(&out.BurstScore, in.BurstScore)
	if len(in.ArchiveExtensions) > 0 {
		out.ArchiveExtensions = lowerAll(in.ArchiveExtensions)
	}
	if len(in.ArchiveMimeTypes) > 0 {
		out.ArchiveMimeTypes = in.ArchiveMimeTypes
	}
	if len(in.RansomExtensions) > 0 {
		out.RansomExtensions = lowerAll(in.RansomExtensions)
	}
	if len(in.RansomNoteKeywords) > 0 {
		out.RansomNoteKeywords = lowerAll(in.RansomNoteKeywords)
	}
	out.Shards = c.Engine.Shards
	return out
}

// MLConfig builds the ML adapter settings.
func (c *Config) MLConfig() mlrisk.Config {
	out := mlrisk.DefaultConfig()
	setDuration(&out.Timeout, c.ML.Timeout)
	out.Location = c.location()
	out.WindowWraps = c.Wraps()
	return out
}

// ScoringConfig overlays the scoring section on the built-in defaults.
func (c *Config) ScoringConfig() threat.Config {
	out := threat.DefaultConfig()
	in := c.Scoring
	setFloat(&out.MaxNarrativeScore, in.MaxNarrativeScore)
	setFloat(&out.ConfidenceThreshold, in.ConfidenceThreshold)
	setFloat(&out.Sharpness, in.Sharpness)
	for tag, bonus := range in.Amplifiers {
		out.Amplifiers[tag] = bonus
	}
	setFloat(&out.MLAnomalyBonus, in.MLAnomalyBonus)
	setFloat(&out.MaxAmplifierBonus, in.MaxAmplifierBonus)
	setFloat(&out.MLMinConfidence, in.MLMinConfidence)
	setFloat(&out.MLScoreSlope, in.MLScoreSlope)
	setFloat(&out.CriticalThreshold, in.CriticalThreshold)
	setFloat(&out.HighThreshold, in.HighThreshold)
	setFloat(&out.MediumThreshold, in.MediumThreshold)
	return out
}

// ScannerConfig builds the reputation scanner settings.
func (c *Config) ScannerConfig() threatintel.ScannerConfig {
	out := threatintel.DefaultScannerConfig()
	if c.ThreatIntel.MinInterval != nil {
		out.MinInterval = *c.ThreatIntel.MinInterval
	}
	setDuration(&out.PollInterval, c.ThreatIntel.PollInterval)
	setInt(&out.BatchSize, c.ThreatIntel.BatchSize)
	return out
}

// Templates converts the narratives section. An empty section yields the
// built-in templates.
func (c *Config) Templates() ([]narrative.Template, error) {
	if len(c.Narratives) == 0 {
		return narrative.DefaultTemplates(), nil
	}
	out := make([]narrative.Template, 0, len(c.Narratives))
	for i, tc := range c.Narratives {
		starters, err := parsePatterns(tc.StarterPatterns)
		if err != nil {
			return nil, fmt.Errorf("narratives[%d].starter_patterns: %w", i, err)
		}
		steps, err := parsePatterns(tc.OrderedSteps)
		if err != nil {
			return nil, fmt.Errorf("narratives[%d].ordered_steps: %w", i, err)
		}
		out = append(out, narrative.Template{
			ID:        tc.ID,
			Starters:  starters,
			Steps:     steps,
			Window:    tc.TotalTimeWindow,
			BaseScore: tc.BaseScore,
			Reason:    tc.Reason,
		})
	}
	return out, nil
}

func parsePatterns(names []string) ([]pattern.Type, error) {
	out := make([]pattern.Type, 0, len(names))
	for _, n := range names {
		p, err := pattern.Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
