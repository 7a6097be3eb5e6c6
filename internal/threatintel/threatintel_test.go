package threatintel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/store"
	"github.com/gyaneshwarpardhi/argus/internal/testutil"
	"github.com/gyaneshwarpardhi/argus/internal/threatintel"
)

const (
	badHash  = "44d88612fea8a8f36de82e1278abb02f"
	goodHash = "d41d8cd98f00b204e9800998ecf8427e"
)

func vtServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.Header.Get("x-apikey") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/files/" + badHash:
			_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":40,"suspicious":2,"harmless":0}}}}`))
		case "/files/" + goodHash:
			_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0,"harmless":60}}}}`))
		case "/files/limited":
			http.Error(w, "quota", http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFileReport(t *testing.T) {
	srv := vtServer(t, nil)
	c := threatintel.NewClient(srv.URL, "secret", time.Second)
	ctx := context.Background()

	r, err := c.FileReport(ctx, badHash)
	require.NoError(t, err)
	assert.True(t, r.Found)
	assert.Equal(t, 42, r.Positives)

	r, err = c.FileReport(ctx, "unknownhash")
	require.NoError(t, err)
	assert.False(t, r.Found)

	_, err = c.FileReport(ctx, "limited")
	require.ErrorIs(t, err, threatintel.ErrRateLimited)

	_, err = threatintel.NewClient(srv.URL, "wrong", time.Second).FileReport(ctx, badHash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFileReportCoalescesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":1,"suspicious":0}}}}`))
	}))
	defer srv.Close()

	c := threatintel.NewClient(srv.URL, "k", 5*time.Second)
	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.FileReport(context.Background(), badHash)
			assert.NoError(t, err)
			results[i] = r.Positives
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		assert.Equal(t, 1, p)
	}
}

func TestReputationLookup(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	rep := threatintel.NewReputation(st)

	positives, found, err := rep.Lookup(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, positives)

	require.NoError(t, st.UpsertReputation(ctx, store.Reputation{FileID: "file-1", MD5Checksum: badHash, Positives: 5, Found: true}))
	positives, found, err = rep.Lookup(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, positives)
}

func TestScannerFillsCache(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

	for id, hash := range map[string]string{"e1": badHash, "e2": goodHash, "e3": ""} {
		e := testutil.Event(id, "alice", event.TypeCreated, now)
		e.MD5Checksum = hash
		require.NoError(t, st.RecordEvent(ctx, e))
	}

	var calls atomic.Int32
	srv := vtServer(t, &calls)
	scanner := threatintel.NewScanner(st, threatintel.NewClient(srv.URL, "secret", time.Second),
		threatintel.ScannerConfig{MinInterval: time.Millisecond, BatchSize: 10}, nil)

	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())

	rep := threatintel.NewReputation(st)
	positives, found, err := rep.Lookup(ctx, "file-e1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, positives)

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScannerRunStopsOnCancel(t *testing.T) {
	st, _ := testutil.NewStore(t)
	srv := vtServer(t, nil)
	scanner := threatintel.NewScanner(st, threatintel.NewClient(srv.URL, "secret", time.Second),
		threatintel.ScannerConfig{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
}

func TestScannerSpacesRequests(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"e1", "e2", "e3"} {
		e := testutil.Event(id, "alice", event.TypeCreated, now)
		e.MD5Checksum = "hash-" + id
		require.NoError(t, st.RecordEvent(ctx, e))
	}

	var (
		mu   sync.Mutex
		seen []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, time.Now())
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	scanner := threatintel.NewScanner(st, threatintel.NewClient(srv.URL, "k", time.Second),
		threatintel.ScannerConfig{MinInterval: 50 * time.Millisecond, BatchSize: 10}, nil)
	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Sub(seen[i-1]), 40*time.Millisecond)
	}
}

func TestScannerRotatesPastFailingFile(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	broken := testutil.Event("a", "alice", event.TypeCreated, now)
	broken.MD5Checksum = "broken"
	good := testutil.Event("b", "alice", event.TypeCreated, now)
	good.MD5Checksum = goodHash
	require.NoError(t, st.RecordEvent(ctx, broken))
	require.NoError(t, st.RecordEvent(ctx, good))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"suspicious":0}}}}`))
	}))
	defer srv.Close()

	scanner := threatintel.NewScanner(st, threatintel.NewClient(srv.URL, "k", time.Second),
		threatintel.ScannerConfig{BatchSize: 1}, nil)

	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "file-a sorts first and fails")

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "file-b is reached on the next pass")

	_, found, err := threatintel.NewReputation(st).Lookup(ctx, "file-b")
	require.NoError(t, err)
	assert.True(t, found)

	refs, err := st.ListUnscannedFiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "file-a", refs[0].FileID)
}
