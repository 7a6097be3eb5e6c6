package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/argus/internal/event"
)

const (
	windowLeadHours  = 4
	windowTrailHours = 5

	massCleanupThreshold = 100
)

// Activity is one historical event as seen by the analyzer.
type Activity struct {
	Timestamp time.Time
	Type      event.Type
}

// Source supplies historical activity.
type Source interface {
	ListActors(ctx context.Context) ([]string, error)
	ListActorActivity(ctx context.Context, actorID string) ([]Activity, error)
}

// Sink persists computed baselines, keyed by actor.
type Sink interface {
	UpsertBaseline(ctx context.Context, b UserBaseline) error
}

// Compute derives a baseline from an actor's history. The active window is
// centered on the modal hour (earliest hour wins ties) and clamped to the day.
// Deletion statistics are taken over days that had at least one deletion.
func Compute(actorID string, history []Activity, loc *time.Location, now time.Time) UserBaseline {
	if loc == nil {
		loc = time.UTC
	}
	b := UserBaseline{ActorID: actorID, UpdatedAt: now.UTC()}

	var hours [24]int
	perDay := make(map[string]float64)
	for _, a := range history {
		if a.Timestamp.IsZero() {
			continue
		}
		ts := a.Timestamp.In(loc)
		hours[ts.Hour()]++
		if a.Type.IsDeletion() {
			perDay[ts.Format(time.DateOnly)]++
		}
	}

	peak, peakCount := 0, 0
	for h, n := range hours {
		if n > peakCount {
			peak, peakCount = h, n
		}
	}
	if peakCount > 0 {
		start := max(0, peak-windowLeadHours)
		end := min(23, peak+windowTrailHours)
		b.ActiveWindow = &ClockWindow{
			Start: time.Duration(start) * time.Hour,
			End:   time.Duration(end) * time.Hour,
		}
	}

	if len(perDay) > 0 {
		counts := make([]float64, 0, len(perDay))
		for _, n := range perDay {
			counts = append(counts, n)
		}
		mean, _ := stats.Mean(counts)
		top, _ := stats.Max(counts)
		b.AvgDailyDeletions = mean
		b.MaxHistoricalDeletions = int(top)
		b.HasPerformedMassCleanup = b.MaxHistoricalDeletions > massCleanupThreshold
	}
	return b
}

// Analyzer recomputes baselines for every actor in a Source.
type Analyzer struct {
	src         Source
	sink        Sink
	loc         *time.Location
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalyzer creates an Analyzer. concurrency bounds the number of actors
// processed at once.
func NewAnalyzer(src Source, sink Sink, loc *time.Location, concurrency int, logger *slog.Logger) *Analyzer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		src:         src,
		sink:        sink,
		loc:         loc,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Run computes and upserts a baseline for every actor. It stops at the first
// storage error and returns the number of baselines written before it.
func (a *Analyzer) Run(ctx context.Context) (int, error) {
	actors, err := a.src.ListActors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list actors: %w", err)
	}
	if len(actors) == 0 {
		a.logger.Info("baseline: no actor activity found")
		return 0, nil
	}

	results := make(chan string, len(actors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, actorID := range actors {
		g.Go(func() error {
			history, err := a.src.ListActorActivity(gctx, actorID)
			if err != nil {
				return fmt.Errorf("actor %s: list activity: %w", actorID, err)
			}
			b := Compute(actorID, history, a.loc, a.now())
			if err := a.sink.UpsertBaseline(gctx, b); err != nil {
				return fmt.Errorf("actor %s: upsert baseline: %w", actorID, err)
			}
			a.logger.Debug("baseline: saved", "actor_id", actorID, "events", len(history))
			results <- actorID
			return nil
		})
	}
	err = g.Wait()
	close(results)
	written := len(results)
	if err != nil {
		return written, err
	}
	a.logger.Info("baseline: complete", "actors", written)
	return written, nil
}
