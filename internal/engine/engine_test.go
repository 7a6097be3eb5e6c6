package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/store"
	"github.com/gyaneshwarpardhi/argus/internal/testutil"
	"github.com/gyaneshwarpardhi/argus/internal/threat"
)

var t0 = time.Date(2025, time.August, 4, 14, 0, 0, 0, time.UTC)

type oracleFunc func(ctx context.Context, features []float64) (float64, error)

func (f oracleFunc) Predict(ctx context.Context, features []float64) (float64, error) {
	return f(ctx, features)
}

type orderPersister struct {
	mu      sync.Mutex
	byActor map[string][]time.Time
}

func (p *orderPersister) RecordEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byActor[e.ActorID] = append(p.byActor[e.ActorID], e.Timestamp)
}

func (p *orderPersister) SaveNarrative(store.Narrative, []store.EventLink) {}

func parseConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("version: \"1\"\n"+body), ".yaml")
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, f *Factory) *Engine {
	t.Helper()
	o, err := f.Build(cfg)
	require.NoError(t, err)
	eng := New(context.Background(), o, cfg.Engine, nil)
	t.Cleanup(eng.Shutdown)
	return eng
}

func ptr(e event.Event) *event.Event { return &e }

func TestProcessSync(t *testing.T) {
	eng := newEngine(t, parseConfig(t, ""), &Factory{})

	res, err := eng.ProcessSync(context.Background(), ptr(testutil.Event("e1", "alice", event.TypeMadePublic, t0)))
	require.NoError(t, err)
	assert.Equal(t, "e1", res.EventID)
	assert.Equal(t, "alice", res.ActorID)
	assert.Greater(t, res.FinalScore, 0.0)
	assert.NotEmpty(t, res.ThreatLevel)
	assert.Empty(t, res.Error)
}

func TestProcessSync_InvalidEvent(t *testing.T) {
	eng := newEngine(t, parseConfig(t, ""), &Factory{})

	tests := []struct {
		name string
		ev   event.Event
	}{
		{"missing id", testutil.Event("", "alice", event.TypeCopied, t0)},
		{"missing actor", testutil.Event("e1", "", event.TypeCopied, t0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.ProcessSync(context.Background(), ptr(tt.ev))
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.ErrorIs(t, eng.ProcessAsync(ptr(tt.ev)), ErrInvalidEvent)
		})
	}
}

func TestProcessSync_UnlistedTypeScoresZeroER(t *testing.T) {
	eng := newEngine(t, parseConfig(t, ""), &Factory{})
	ctx := context.Background()

	res, err := eng.ProcessSync(ctx, ptr(testutil.Event("d1", "alice", event.Type("file_downloaded"), t0)))
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Equal(t, "d1", res.EventID)
	assert.Zero(t, res.Breakdown.ER.Score)
	assert.Equal(t, 1, eng.Scorer().Contextual().WindowLen("alice"), "the event still enters the actor's window")
}

func TestPrepare_DefaultsTimestamp(t *testing.T) {
	ev := testutil.Event("e1", "alice", event.TypeCopied, time.Time{})
	require.NoError(t, prepare(&ev))
	assert.False(t, ev.ReceivedAt.IsZero())
	assert.Equal(t, ev.ReceivedAt, ev.Timestamp)
}

func TestPartitionRoutingIsStable(t *testing.T) {
	eng := newEngine(t, parseConfig(t, "engine:\n  partitions: 8\n"), &Factory{})

	used := map[int]bool{}
	for i := range 200 {
		actor := fmt.Sprintf("user-%d", i)
		p := eng.partitionFor(actor)
		assert.Same(t, p, eng.partitionFor(actor))
		used[p.id] = true
	}
	assert.Greater(t, len(used), 1, "actors spread over partitions")
}

func TestPerActorOrderPreserved(t *testing.T) {
	rec := &orderPersister{byActor: map[string][]time.Time{}}
	cfg := parseConfig(t, "engine:\n  partitions: 4\n  queue_depth: 4000\n")
	o, err := (&Factory{Persister: rec}).Build(cfg)
	require.NoError(t, err)
	eng := New(context.Background(), o, cfg.Engine, nil)

	actors := []string{"a", "b", "c", "d", "e"}
	for i := range 100 {
		for _, a := range actors {
			ev := testutil.Event(fmt.Sprintf("%s-%d", a, i), a, event.TypeModified, t0.Add(time.Duration(i)*time.Second))
			require.NoError(t, eng.ProcessAsync(&ev))
		}
	}
	eng.Shutdown()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, a := range actors {
		got := rec.byActor[a]
		require.Len(t, got, 100, a)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i].After(got[i-1]), "actor %s out of order at %d", a, i)
		}
	}
}

func TestQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f := &Factory{Oracle: oracleFunc(func(ctx context.Context, _ []float64) (float64, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, nil
	})}
	cfg := parseConfig(t, "engine:\n  partitions: 1\n  queue_depth: 1\nml:\n  timeout: 10s\n")
	eng := newEngine(t, cfg, f)
	defer close(release)

	require.NoError(t, eng.ProcessAsync(ptr(testutil.Event("e1", "alice", event.TypeCopied, t0))))
	<-started
	require.NoError(t, eng.ProcessAsync(ptr(testutil.Event("e2", "alice", event.TypeCopied, t0))))
	assert.Equal(t, 1.0, eng.QueueUtilization())

	err := eng.ProcessAsync(ptr(testutil.Event("e3", "alice", event.TypeCopied, t0)))
	assert.ErrorIs(t, err, ErrQueueFull)
	_, err = eng.ProcessSync(context.Background(), ptr(testutil.Event("e4", "alice", event.TypeCopied, t0)))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestProcessSync_Timeout(t *testing.T) {
	release := make(chan struct{})
	f := &Factory{Oracle: oracleFunc(func(ctx context.Context, _ []float64) (float64, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, nil
	})}
	cfg := parseConfig(t, "engine:\n  event_timeout: 50ms\nml:\n  timeout: 10s\n")
	eng := newEngine(t, cfg, f)
	defer close(release)

	_, err := eng.ProcessSync(context.Background(), ptr(testutil.Event("e1", "alice", event.TypeCopied, t0)))
	assert.True(t, errors.Is(err, ErrTimeout), err)
}

func TestSweepUsesEventTime(t *testing.T) {
	eng := newEngine(t, parseConfig(t, ""), &Factory{})
	ctx := context.Background()

	windows, _ := eng.Sweep()
	assert.Zero(t, windows, "nothing seen yet")

	_, err := eng.ProcessSync(ctx, ptr(testutil.Event("e1", "alice", event.TypeCopied, t0)))
	require.NoError(t, err)
	_, err = eng.ProcessSync(ctx, ptr(testutil.Event("e2", "bob", event.TypeCopied, t0.Add(2*time.Hour))))
	require.NoError(t, err)
	require.Equal(t, 2, eng.Scorer().Contextual().Actors())

	windows, _ = eng.Sweep()
	assert.Equal(t, 1, windows)
	assert.Equal(t, 1, eng.Scorer().Contextual().Actors())
}

func TestFactoryKeepsStateAcrossReloads(t *testing.T) {
	f := &Factory{}
	cfg := parseConfig(t, "")
	o1, err := f.Build(cfg)
	require.NoError(t, err)

	o2, err := f.Build(parseConfig(t, "scoring:\n  high_threshold: 45\n"))
	require.NoError(t, err)
	assert.Same(t, o1.Contextual(), o2.Contextual())
	assert.Same(t, o1.Narratives(), o2.Narratives())

	o3, err := f.Build(parseConfig(t, "contextual:\n  bulk_copy_threshold: 3\n"))
	require.NoError(t, err)
	assert.NotSame(t, o2.Contextual(), o3.Contextual())
	assert.Same(t, o2.Narratives(), o3.Narratives())
}

func TestPartitionRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	p := newPartition(ctx, 0, 4, func(context.Context, *work) *EventResult {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return &EventResult{DurationMs: 1}
	}, slog.Default())

	first := make(chan *EventResult, 1)
	second := make(chan *EventResult, 1)
	require.True(t, p.Submit(&work{ev: ptr(testutil.Event("e1", "alice", event.TypeCopied, t0)), resultC: first}))
	require.True(t, p.Submit(&work{ev: ptr(testutil.Event("e2", "alice", event.TypeCopied, t0)), resultC: second}))

	r1 := <-first
	assert.Equal(t, "internal error", r1.Error)
	assert.Equal(t, "e1", r1.EventID)
	r2 := <-second
	assert.Empty(t, r2.Error)

	p.Drain()
	assert.False(t, p.Submit(&work{ev: ptr(testutil.Event("e3", "alice", event.TypeCopied, t0))}))
}

var _ threat.Persister = (*orderPersister)(nil)
