package threat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/store"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
)

var errDiskFull = errors.New("disk full")

type failingWriter struct{}

func (failingWriter) RecordEvent(context.Context, event.Event) error { return errDiskFull }

func (failingWriter) SaveNarrative(context.Context, store.Narrative, []store.EventLink) (bool, error) {
	return false, errDiskFull
}

type panickingWriter struct{}

func (panickingWriter) RecordEvent(context.Context, event.Event) error { panic("journal corrupted") }

func (panickingWriter) SaveNarrative(context.Context, store.Narrative, []store.EventLink) (bool, error) {
	panic("journal corrupted")
}

// blockingWriter holds its first write until release is closed.
type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) RecordEvent(context.Context, event.Event) error {
	select {
	case w.entered <- struct{}{}:
		<-w.release
	default:
	}
	return nil
}

func (w *blockingWriter) SaveNarrative(context.Context, store.Narrative, []store.EventLink) (bool, error) {
	return true, nil
}

func failures(kind, reason string) float64 {
	return promtest.ToFloat64(metrics.PersistFailures.WithLabelValues(kind, reason))
}

func assertCriticalNarrative(t *testing.T, res threat.ScoreResult) {
	t.Helper()
	assert.Equal(t, threat.LevelCritical, res.ThreatLevel)
	assert.Equal(t, threat.TierNarrative, res.Breakdown.LogicTier)
	assert.NotEmpty(t, res.NarrativeID)
}

func TestPersistErrorsDoNotAffectScoring(t *testing.T) {
	eventsBefore := failures("event", "error")
	narrativesBefore := failures("narrative", "error")

	persister := threat.NewAsyncPersister(failingWriter{}, 1, 10, time.Second, nil)
	o := newOrchestrator(t, options{persister: persister})

	var last threat.ScoreResult
	for _, e := range exfilScenario("mallory") {
		last = o.Score(context.Background(), e)
	}
	persister.Close()

	assertCriticalNarrative(t, last)
	assert.Equal(t, 4.0, failures("event", "error")-eventsBefore)
	assert.Equal(t, 1.0, failures("narrative", "error")-narrativesBefore)
}

func TestFullPoolDropsWrites(t *testing.T) {
	droppedBefore := failures("narrative", "dropped")
	eventsDroppedBefore := failures("event", "dropped")

	w := &blockingWriter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	persister := threat.NewAsyncPersister(w, 1, 1, time.Second, nil)
	o := newOrchestrator(t, options{persister: persister})

	events := exfilScenario("mallory")
	o.Score(context.Background(), events[0])
	select {
	case <-w.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first write never started")
	}

	var last threat.ScoreResult
	for _, e := range events[1:] {
		last = o.Score(context.Background(), e)
	}
	close(w.release)
	persister.Close()

	assertCriticalNarrative(t, last)
	assert.Equal(t, 1.0, failures("narrative", "dropped")-droppedBefore)
	assert.Equal(t, 2.0, failures("event", "dropped")-eventsDroppedBefore,
		"one event runs, one waits in the queue, the rest are dropped")
}

func TestPanickingWriterIsContained(t *testing.T) {
	before := failures("any", "panic")

	persister := threat.NewAsyncPersister(panickingWriter{}, 1, 10, time.Second, nil)
	o := newOrchestrator(t, options{persister: persister})

	var last threat.ScoreResult
	for _, e := range exfilScenario("mallory") {
		last = o.Score(context.Background(), e)
	}
	require.NotPanics(t, persister.Close)

	assertCriticalNarrative(t, last)
	assert.Equal(t, 5.0, failures("any", "panic")-before)
}
