// Package engine routes events to per-actor partitions and scores them with
// the current threat orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
)

var (
	ErrQueueFull    = errors.New("event queue full")
	ErrInvalidEvent = errors.New("invalid event")
	ErrTimeout      = errors.New("event processing timeout")
)

// EventResult is the outcome of processing a single event.
type EventResult struct {
	threat.ScoreResult
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type member int

func (m member) String() string { return fmt.Sprintf("partition-%d", int(m)) }

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 { return xxhash.Sum64(data) }

// Engine scores events. Events of one actor always go to the same partition.
type Engine struct {
	scorer     atomic.Pointer[threat.Orchestrator]
	partitions []*partition
	ring       *consistent.Consistent
	conf       config.EngineConf
	logger     *slog.Logger

	// highWater is the latest event time seen, in unix nanoseconds. Idle
	// actor state is swept relative to it, not the wall clock.
	highWater atomic.Int64
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates an Engine using conf and starts one worker per partition.
func New(ctx context.Context, scorer *threat.Orchestrator, conf config.EngineConf, logger *slog.Logger) *Engine {
	if conf.Partitions <= 0 {
		conf.Partitions = 1
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 1000
	}
	if conf.EventTimeout <= 0 {
		conf.EventTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		conf:      conf,
		logger:    logger,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	e.scorer.Store(scorer)

	members := make([]consistent.Member, conf.Partitions)
	e.partitions = make([]*partition, conf.Partitions)
	perPartition := max(1, conf.QueueDepth/conf.Partitions)
	for i := range e.partitions {
		members[i] = member(i)
		e.partitions[i] = newPartition(ctx, i, perPartition, e.processEvent, logger)
	}
	e.ring = consistent.New(members, consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	})

	if conf.SweepInterval > 0 {
		go e.sweepLoop(conf.SweepInterval)
	} else {
		close(e.sweepDone)
	}
	return e
}

// SwapScorer atomically replaces the orchestrator (used on hot-reload).
// Events already being scored finish with the previous one.
func (e *Engine) SwapScorer(o *threat.Orchestrator) {
	e.scorer.Store(o)
}

// Scorer returns the orchestrator currently in use.
func (e *Engine) Scorer() *threat.Orchestrator {
	return e.scorer.Load()
}

// ProcessSync processes an event synchronously and returns the result.
// Returns ErrQueueFull if the actor's partition is full.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*EventResult, error) {
	if err := prepare(ev); err != nil {
		return nil, err
	}
	resultC := make(chan *EventResult, 1)
	if !e.submit(&work{ev: ev, resultC: resultC}) {
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.conf.QueueDepth)
	}

	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(e.conf.EventTimeout):
		return nil, fmt.Errorf("%w after %v", ErrTimeout, e.conf.EventTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues an event for background processing.
func (e *Engine) ProcessAsync(ev *event.Event) error {
	if err := prepare(ev); err != nil {
		return err
	}
	if !e.submit(&work{ev: ev}) {
		return ErrQueueFull
	}
	return nil
}

func (e *Engine) submit(w *work) bool {
	p := e.partitionFor(w.ev.ActorID)
	if !p.Submit(w) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return true
}

func (e *Engine) partitionFor(actorID string) *partition {
	m := e.ring.LocateKey([]byte(actorID))
	return e.partitions[int(m.(member))]
}

// prepare rejects events that cannot be attributed and fills in times. An
// unlisted type is scored like any other event; ER gives it no base score.
func prepare(ev *event.Event) error {
	switch {
	case ev == nil:
		return fmt.Errorf("%w: empty event", ErrInvalidEvent)
	case ev.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case ev.ActorID == "":
		return fmt.Errorf("%w: actor_id is required", ErrInvalidEvent)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = ev.ReceivedAt
	}
	return nil
}

// QueueUtilization returns the fullest partition's used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	util := 0.0
	for _, p := range e.partitions {
		if p.QueueCap() == 0 {
			continue
		}
		util = max(util, float64(p.QueueLen())/float64(p.QueueCap()))
	}
	return util
}

func (e *Engine) processEvent(ctx context.Context, w *work) *EventResult {
	start := time.Now()
	res := e.scorer.Load().Score(ctx, w.ev)
	e.observe(w.ev.Timestamp)

	elapsed := time.Since(start)
	metrics.EventsProcessed.Inc()
	metrics.EventProcessingDuration.Observe(float64(elapsed.Microseconds()) / 1000)
	return &EventResult{ScoreResult: res, DurationMs: elapsed.Milliseconds()}
}

func (e *Engine) observe(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := e.highWater.Load()
		if n <= cur || e.highWater.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Sweep drops idle actor state older than the latest event time seen. It
// returns how many actors were forgotten by the window and narrative stores.
func (e *Engine) Sweep() (windows, narratives int) {
	hw := e.highWater.Load()
	if hw == 0 {
		return 0, 0
	}
	now := time.Unix(0, hw)
	s := e.scorer.Load()
	windows = s.Contextual().Sweep(now)
	narratives = s.Narratives().Sweep(now)
	metrics.TrackedActors.Set(float64(s.Contextual().Actors()))
	if windows > 0 || narratives > 0 {
		e.logger.Debug("engine: swept idle actors", "windows", windows, "narratives", narratives, "as_of", now)
	}
	return windows, narratives
}

func (e *Engine) sweepLoop(interval time.Duration) {
	defer close(e.sweepDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.Sweep()
		case <-e.stopSweep:
			return
		}
	}
}

// Shutdown drains every partition gracefully.
func (e *Engine) Shutdown() {
	select {
	case <-e.stopSweep:
	default:
		close(e.stopSweep)
	}
	<-e.sweepDone
	for _, p := range e.partitions {
		p.Drain()
	}
}
