package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
)

type work struct {
	ev      *event.Event
	resultC chan *EventResult
}

// partition is a single-goroutine worker with a bounded input queue. Every
// event for a given actor lands on the same partition, so that actor's
// events are scored one at a time in arrival order.
type partition struct {
	id      int
	queue   chan *work
	process func(ctx context.Context, w *work) *EventResult
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newPartition(ctx context.Context, id, capacity int, fn func(context.Context, *work) *EventResult, logger *slog.Logger) *partition {
	p := &partition{
		id:      id,
		queue:   make(chan *work, capacity),
		process: fn,
		logger:  logger,
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return p
}

func (p *partition) run(ctx context.Context) {
	for {
		select {
		case w, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, w)
		case <-ctx.Done():
			return
		}
	}
}

// handle keeps a panicking event from taking the partition down with it.
func (p *partition) handle(ctx context.Context, w *work) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SignalFailures.WithLabelValues("engine").Inc()
			p.logger.Error("engine: event processing panicked",
				"partition", p.id, "event_id", w.ev.ID, "actor_id", w.ev.ActorID, "panic", r)
			if w.resultC != nil {
				w.resultC <- &EventResult{
					ScoreResult: threat.ScoreResult{EventID: w.ev.ID, ActorID: w.ev.ActorID},
					Error:       "internal error",
				}
			}
		}
	}()
	res := p.process(ctx, w)
	if w.resultC != nil {
		w.resultC <- res
	}
}

// Submit enqueues work without blocking (returns false if full or drained).
func (p *partition) Submit(w *work) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- w:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for the worker to finish what is queued.
func (p *partition) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many events are currently queued.
func (p *partition) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *partition) QueueCap() int {
	return cap(p.queue)
}
