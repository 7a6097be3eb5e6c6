package threat

import (
	"math"

	"github.com/gyaneshwarpardhi/argus/internal/contextual"
	"github.com/gyaneshwarpardhi/argus/internal/eventrisk"
)

const (
	TierNarrative = "Narrative-Driven"
	TierBlended   = "Blended"
	TierEvent     = "Event-Driven"

	LevelCritical = "Critical"
	LevelHigh     = "High"
	LevelMedium   = "Medium"
	LevelLow      = "Low"
)

// TagMLAnomaly marks events whose anomaly probability reached the ML
// confidence floor.
const TagMLAnomaly = "ML_BEHAVIORAL_THREAT"

type Config struct {
	MaxNarrativeScore   float64
	ConfidenceThreshold float64
	Sharpness           float64

	// Amplifiers maps a tag to the bonus fraction it adds.
	Amplifiers        map[string]float64
	MLAnomalyBonus    float64
	MaxAmplifierBonus float64

	MLMinConfidence float64
	MLScoreSlope    float64

	CriticalThreshold float64
	HighThreshold     float64
	MediumThreshold   float64
}

func DefaultConfig() Config {
	return Config{
		MaxNarrativeScore:   30,
		ConfidenceThreshold: 0.75,
		Sharpness:           10,
		Amplifiers: map[string]float64{
			eventrisk.TagOffHours:     0.5,
			contextual.TagDormantFile: 0.75,
			contextual.TagArchive:     0.25,
		},
		MLAnomalyBonus:    0.5,
		MaxAmplifierBonus: 2.0,
		MLMinConfidence:   0.6,
		MLScoreSlope:      40,
		CriticalThreshold: 70,
		HighThreshold:     40,
		MediumThreshold:   20,
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// blend weighs the narrative score against the event-driven score. The
// weight rises sharply once narrative confidence passes the threshold.
func (c Config) blend(nrScore, eventScore float64) (base, weight float64, tier string) {
	confidence := 0.0
	if c.MaxNarrativeScore > 0 {
		confidence = math.Min(1, math.Max(0, nrScore/c.MaxNarrativeScore))
	}
	weight = sigmoid(c.Sharpness * (confidence - c.ConfidenceThreshold))
	base = weight*nrScore + (1-weight)*eventScore
	switch {
	case weight > 0.9:
		tier = TierNarrative
	case weight < 0.1:
		tier = TierEvent
	default:
		tier = TierBlended
	}
	return base, weight, tier
}

// mlContribution maps an anomaly probability to points.
func (c Config) mlContribution(p float64) float64 {
	if p < c.MLMinConfidence {
		return 0
	}
	return p * c.MLScoreSlope
}

// amplifier sums bonus fractions for the tags present, plus the ML share,
// capped at MaxAmplifierBonus.
func (c Config) amplifier(tags []string, mlProbability float64) float64 {
	bonus := 0.0
	for _, t := range tags {
		bonus += c.Amplifiers[t]
		if t == TagMLAnomaly {
			bonus += c.MLAnomalyBonus * mlProbability
		}
	}
	return math.Min(bonus, c.MaxAmplifierBonus)
}

// level maps a final score to a threat level. Critical is reserved for
// narrative-driven results.
func (c Config) level(score float64, tier string) string {
	switch {
	case score >= c.CriticalThreshold:
		if tier == TierNarrative {
			return LevelCritical
		}
		return LevelHigh
	case score >= c.HighThreshold:
		return LevelHigh
	case score >= c.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}
