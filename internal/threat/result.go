package threat

import (
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/narrative"
)

type Signal struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

type Breakdown struct {
	LogicTier       string  `json:"logic_tier"`
	BaseScore       float64 `json:"base_score"`
	AmplifierBonus  float64 `json:"amplifier_bonus"`
	NarrativeWeight float64 `json:"narrative_weight"`
	ER              Signal  `json:"er"`
	CR              Signal  `json:"cr"`
	NR              Signal  `json:"nr"`
	MR              Signal  `json:"mr"`
}

type NarrativeInfo struct {
	TemplateID    string                   `json:"template_id"`
	Reason        string                   `json:"reason"`
	StartTime     time.Time                `json:"start_time"`
	EndTime       time.Time                `json:"end_time"`
	Contributions []narrative.Contribution `json:"contributions"`
}

// ScoreResult is the explainable outcome of scoring one event.
type ScoreResult struct {
	EventID       string         `json:"event_id"`
	ActorID       string         `json:"actor_id"`
	FinalScore    float64        `json:"final_score"`
	ThreatLevel   string         `json:"threat_level"`
	Tags          []string       `json:"tags"`
	Breakdown     Breakdown      `json:"breakdown"`
	NarrativeInfo *NarrativeInfo `json:"narrative_info,omitempty"`
	NarrativeID   string         `json:"narrative_id,omitempty"`
}
