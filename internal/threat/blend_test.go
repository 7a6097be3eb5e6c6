package threat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlendTiers(t *testing.T) {
	cfg := DefaultConfig()

	base, weight, tier := cfg.blend(0, 12)
	assert.Equal(t, TierEvent, tier)
	assert.Less(t, weight, 0.01)
	assert.InDelta(t, 12, base, 0.01)

	_, weight, tier = cfg.blend(22.5, 10)
	assert.Equal(t, TierBlended, tier)
	assert.InDelta(t, 0.5, weight, 1e-9)

	_, weight, tier = cfg.blend(30, 10)
	assert.Equal(t, TierNarrative, tier)
	assert.InDelta(t, 1/(1+math.Exp(-2.5)), weight, 1e-9)

	_, _, tier = cfg.blend(300, 0)
	assert.Equal(t, TierNarrative, tier, "confidence saturates at 1")
}

func TestAmplifierIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.75, cfg.amplifier([]string{"OFF_HOURS_ACTIVITY", "COMPRESSED_ARCHIVE"}, 0), 1e-9)
	assert.InDelta(t, 0.4, cfg.amplifier([]string{TagMLAnomaly}, 0.8), 1e-9)
	assert.Zero(t, cfg.amplifier([]string{"UNKNOWN"}, 0))

	cfg.MaxAmplifierBonus = 1
	assert.Equal(t, 1.0, cfg.amplifier([]string{"OFF_HOURS_ACTIVITY", "DORMANT_FILE_ACTIVATION", "COMPRESSED_ARCHIVE"}, 0))
}

func TestLevels(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelCritical, cfg.level(70, TierNarrative))
	assert.Equal(t, LevelHigh, cfg.level(95, TierBlended))
	assert.Equal(t, LevelHigh, cfg.level(99, TierEvent))
	assert.Equal(t, LevelHigh, cfg.level(40, TierEvent))
	assert.Equal(t, LevelMedium, cfg.level(20, TierEvent))
	assert.Equal(t, LevelLow, cfg.level(19.99, TierEvent))
}

func TestMLContribution(t *testing.T) {
	cfg := DefaultConfig()
	assert.Zero(t, cfg.mlContribution(0.59))
	assert.InDelta(t, 24, cfg.mlContribution(0.6), 1e-9)
	assert.InDelta(t, 40, cfg.mlContribution(1), 1e-9)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 100.0, clampScore(250))
	assert.Zero(t, clampScore(-3))
	assert.Zero(t, clampScore(math.NaN()))
	assert.Equal(t, 100.0, clampScore(math.Inf(1)))
}
