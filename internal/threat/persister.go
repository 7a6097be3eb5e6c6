package threat

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/store"
)

// Persister receives writes that must not delay scoring.
type Persister interface {
	RecordEvent(e event.Event)
	SaveNarrative(n store.Narrative, links []store.EventLink)
}

type writer interface {
	RecordEvent(ctx context.Context, e event.Event) error
	SaveNarrative(ctx context.Context, n store.Narrative, links []store.EventLink) (bool, error)
}

// AsyncPersister runs store writes on a bounded pond pool. When the pool's
// queue is full the write is dropped, logged and counted.
type AsyncPersister struct {
	pool    *pond.WorkerPool
	store   writer
	timeout time.Duration
	logger  *slog.Logger
}

func NewAsyncPersister(w writer, workers, capacity int, timeout time.Duration, logger *slog.Logger) *AsyncPersister {
	if workers <= 0 {
		workers = 2
	}
	if capacity <= 0 {
		capacity = 1000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &AsyncPersister{store: w, timeout: timeout, logger: logger}
	p.pool = pond.New(workers, capacity, pond.PanicHandler(func(v interface{}) {
		metrics.PersistFailures.WithLabelValues("any", "panic").Inc()
		p.logger.Error("persister: task panicked", "panic", v)
	}))
	return p
}

func (p *AsyncPersister) RecordEvent(e event.Event) {
	p.submit("event", func(ctx context.Context) error {
		return p.store.RecordEvent(ctx, e)
	}, "event_id", e.ID)
}

func (p *AsyncPersister) SaveNarrative(n store.Narrative, links []store.EventLink) {
	p.submit("narrative", func(ctx context.Context) error {
		created, err := p.store.SaveNarrative(ctx, n, links)
		if err != nil {
			return err
		}
		if created {
			metrics.NarrativesPersisted.Inc()
			p.logger.Info("persister: narrative saved",
				"narrative_id", n.ID, "type", n.Type, "actor_id", n.PrimaryActorID, "events", len(links))
		}
		return nil
	}, "narrative_id", n.ID)
}

func (p *AsyncPersister) submit(kind string, fn func(ctx context.Context) error, idKey, id string) {
	ok := p.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.PersistFailures.WithLabelValues(kind, "error").Inc()
			p.logger.Error("persister: write failed", "kind", kind, idKey, id, "err", err)
		}
	})
	if !ok {
		metrics.PersistFailures.WithLabelValues(kind, "dropped").Inc()
		p.logger.Warn("persister: pool full, write dropped", "kind", kind, idKey, id)
	}
}

// Pending returns the number of queued writes.
func (p *AsyncPersister) Pending() uint64 {
	return p.pool.WaitingTasks()
}

// Close waits for queued writes to finish.
func (p *AsyncPersister) Close() {
	p.pool.StopAndWait()
}
