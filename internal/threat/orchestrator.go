// Package threat combines event, contextual, narrative and ML signals into a
// single explainable threat score.
package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/contextual"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/eventrisk"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/mlrisk"
	"github.com/gyaneshwarpardhi/argus/internal/narrative"
	"github.com/gyaneshwarpardhi/argus/internal/store"
	"github.com/gyaneshwarpardhi/argus/internal/telemetry"
)

// BaselineStore resolves an actor's behavioral profile.
type BaselineStore interface {
	GetBaseline(ctx context.Context, actorID string) (baseline.UserBaseline, error)
}

// Deps are the signal components an Orchestrator drives. Baselines and
// Persister may be nil.
type Deps struct {
	Baselines  BaselineStore
	EventRisk  *eventrisk.Scorer
	Contextual *contextual.Aggregator
	ML         *mlrisk.Adapter
	Narratives *narrative.Engine
	Persister  Persister
}

type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		tracer: telemetry.Tracer("argus/threat"),
	}
}

// Narratives returns the narrative engine in use.
func (o *Orchestrator) Narratives() *narrative.Engine {
	return o.deps.Narratives
}

// Contextual returns the window aggregator in use.
func (o *Orchestrator) Contextual() *contextual.Aggregator {
	return o.deps.Contextual
}

// isolate runs one signal, converting a panic into a zero contribution.
func isolate[T any](o *Orchestrator, name string, e *event.Event, fn func() T) (out T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SignalFailures.WithLabelValues(name).Inc()
			o.logger.Error("threat: signal failed", "signal", name, "event_id", e.ID, "panic", r)
			var zero T
			out, ok = zero, false
		}
	}()
	return fn(), true
}

// Score computes the threat score for e. Calls for one actor must be made in
// timestamp order by a single goroutine.
func (o *Orchestrator) Score(ctx context.Context, e *event.Event) ScoreResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "threat.Score", trace.WithAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("event.type", string(e.Type)),
		attribute.String("actor.id", e.ActorID),
	))
	defer span.End()

	res := ScoreResult{EventID: e.ID, ActorID: e.ActorID}
	b, baselineReason := o.baseline(ctx, e.ActorID)

	er, ok := isolate(o, "er", e, func() eventrisk.Result { return o.deps.EventRisk.Score(ctx, e, b) })
	if !ok {
		er.Reasons = []string{"ER: signal failed"}
	}
	if baselineReason != "" {
		er.Reasons = append(er.Reasons, baselineReason)
	}

	cr, ok := isolate(o, "cr", e, func() contextual.Result { return o.deps.Contextual.UpdateAndScore(e, b) })
	if !ok {
		cr.Reasons = []string{"CR: signal failed"}
	}

	mr, ok := isolate(o, "mr", e, func() mlrisk.Result {
		return o.deps.ML.Score(ctx, mlrisk.Input{Event: e, Baseline: b, Positives: er.Positives, Patterns: cr.Patterns})
	})
	if !ok {
		mr.Reason = "MR: signal failed"
	}

	hit, ok := isolate(o, "nr", e, func() *narrative.Hit {
		return o.deps.Narratives.Process(e.ActorID, e.Timestamp, cr.Patterns)
	})
	var nrReasons []string
	if !ok {
		nrReasons = append(nrReasons, "NR: signal failed")
	}

	// Event-driven score.
	mlPoints := o.cfg.mlContribution(mr.Probability)
	eventScore := math.Max(er.Score+cr.Score, mlPoints)

	tags := mergeTags(er.Tags, cr.Tags)
	mrSignal := Signal{Score: mlPoints}
	if mr.Reason != "" {
		mrSignal.Reasons = append(mrSignal.Reasons, mr.Reason)
	}
	if mlPoints > 0 {
		tags = mergeTags(tags, []string{TagMLAnomaly})
		mrSignal.Reasons = append(mrSignal.Reasons, fmt.Sprintf("MR: anomaly probability %.2f", mr.Probability))
	}

	var (
		base, weight, nrScore float64
		tier                  string
	)
	if hit != nil {
		nrScore = hit.BaseScore
		base, weight, tier = hit.BaseScore, 1, TierNarrative
		nrReasons = append(nrReasons, fmt.Sprintf("NR: narrative %s completed: %s", hit.TemplateID, hit.Reason))
	} else {
		base, weight, tier = o.cfg.blend(nrScore, eventScore)
		nrReasons = append(nrReasons, o.progressReasons(e.ActorID)...)
	}

	bonus := o.cfg.amplifier(tags, mr.Probability)
	res.FinalScore = clampScore(base * (1 + bonus))
	res.ThreatLevel = o.cfg.level(res.FinalScore, tier)
	res.Tags = tags
	res.Breakdown = Breakdown{
		LogicTier:       tier,
		BaseScore:       base,
		AmplifierBonus:  bonus,
		NarrativeWeight: weight,
		ER:              Signal{Score: er.Score, Reasons: er.Reasons},
		CR:              Signal{Score: cr.Score, Reasons: cr.Reasons},
		NR:              Signal{Score: nrScore, Reasons: nrReasons},
		MR:              mrSignal,
	}

	if hit != nil {
		res.NarrativeInfo = &NarrativeInfo{
			TemplateID:    hit.TemplateID,
			Reason:        hit.Reason,
			StartTime:     hit.StartTime,
			EndTime:       hit.EndTime,
			Contributions: hit.Contributions,
		}
		res.NarrativeID = uuid.NewString()
		metrics.NarrativesCompleted.WithLabelValues(hit.TemplateID).Inc()
		o.logger.Warn("threat: narrative completed",
			"narrative_id", res.NarrativeID, "template_id", hit.TemplateID, "actor_id", e.ActorID, "score", res.FinalScore)
		o.persistNarrative(res.NarrativeID, hit, res.FinalScore)
	}
	if o.deps.Persister != nil {
		o.deps.Persister.RecordEvent(*e)
	}

	metrics.ThreatLevels.WithLabelValues(res.ThreatLevel).Inc()
	metrics.LogicTiers.WithLabelValues(tier).Inc()
	span.SetAttributes(
		attribute.Float64("threat.final_score", res.FinalScore),
		attribute.String("threat.level", res.ThreatLevel),
		attribute.String("threat.tier", tier),
	)
	o.logger.Debug("threat: scored",
		"event_id", e.ID, "actor_id", e.ActorID, "final_score", res.FinalScore,
		"level", res.ThreatLevel, "tier", tier, "duration", time.Since(start))
	return res
}

func (o *Orchestrator) baseline(ctx context.Context, actorID string) (*baseline.UserBaseline, string) {
	if o.deps.Baselines == nil || actorID == "" {
		return nil, ""
	}
	b, err := o.deps.Baselines.GetBaseline(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "ER: no baseline for actor"
	}
	if err != nil {
		o.logger.Warn("threat: baseline lookup failed", "actor_id", actorID, "err", err)
		return nil, "ER: baseline unavailable"
	}
	return &b, ""
}

func (o *Orchestrator) progressReasons(actorID string) []string {
	if o.deps.Narratives == nil {
		return nil
	}
	var out []string
	for _, p := range o.deps.Narratives.Progress(actorID) {
		out = append(out, fmt.Sprintf("NR: %s in progress (%d/%d, next %s)", p.TemplateID, p.Step, p.Total, p.Next))
	}
	return out
}

func (o *Orchestrator) persistNarrative(id string, hit *narrative.Hit, score float64) {
	if o.deps.Persister == nil {
		return
	}
	links := make([]store.EventLink, 0, len(hit.Contributions))
	for _, c := range hit.Contributions {
		links = append(links, store.EventLink{EventID: c.EventID, Stage: string(c.Stage)})
	}
	o.deps.Persister.SaveNarrative(store.Narrative{
		ID:             id,
		Type:           hit.TemplateID,
		PrimaryActorID: hit.ActorID,
		StartTime:      hit.StartTime,
		EndTime:        hit.EndTime,
		Score:          score,
		Reason:         hit.Reason,
	}, links)
}

func mergeTags(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
