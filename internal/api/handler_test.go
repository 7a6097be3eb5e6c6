package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/argus/internal/api"
	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/engine"
)

const baseConfig = "version: \"1\"\nengine:\n  partitions: 2\n"

type fixture struct {
	handler http.Handler
	eng     *engine.Engine
	path    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "argus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig), 0o600))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	f := &engine.Factory{}
	o, err := f.Build(loader.Config())
	require.NoError(t, err)
	eng := engine.New(context.Background(), o, loader.Config().Engine, nil)
	eng.Follow(loader, f)
	t.Cleanup(eng.Shutdown)

	return &fixture{handler: api.New(eng, loader, nil), eng: eng, path: path}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func eventJSON(id, actor, typ string, at time.Time) string {
	return fmt.Sprintf(`{"id":%q,"actor_id":%q,"file_id":"f-%s","event_type":%q,"timestamp":%q,"name":"%s.txt","mime_type":"text/plain"}`,
		id, actor, id, typ, at.Format(time.RFC3339), id)
}

var t0 = time.Date(2025, time.August, 4, 14, 0, 0, 0, time.UTC)

func TestIngestEvent(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodPost, "/v1/events", eventJSON("e1", "alice", "file_made_public", t0))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "e1", out["event_id"])
	assert.Equal(t, "alice", out["actor_id"])
	assert.Greater(t, out["final_score"].(float64), 0.0)
	assert.Contains(t, out, "breakdown")
	assert.Contains(t, out, "duration_ms")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestIngestEvent_AssignsID(t *testing.T) {
	f := newFixture(t)
	body := `{"actor_id":"alice","event_type":"file_copied","name":"a.txt"}`
	rec, out := f.do(t, http.MethodPost, "/v1/events", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, out["event_id"])
}

func TestIngestEvent_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id":`},
		{"missing actor", `{"id":"e1","event_type":"file_copied"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := f.do(t, http.MethodPost, "/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestIngestEvent_UnlistedType(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodPost, "/v1/events", eventJSON("u1", "alice", "file_downloaded", t0))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", out["event_id"])
	er := out["breakdown"].(map[string]any)["er"].(map[string]any)
	assert.EqualValues(t, 0, er["score"])
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t)
	var parts []string
	for i := range 5 {
		parts = append(parts, eventJSON(fmt.Sprintf("b%d", i), "bob", "file_copied", t0.Add(time.Duration(i)*time.Second)))
	}
	parts = append(parts, `{"id":"bad","event_type":"file_copied"}`)

	rec, out := f.do(t, http.MethodPost, "/v1/events/batch", "["+strings.Join(parts, ",")+"]")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.EqualValues(t, 6, out["total"])
	assert.EqualValues(t, 5, out["queued"])
	assert.EqualValues(t, 1, out["rejected"])
	assert.NotEmpty(t, out["job_id"])
}

func TestIngestBatch_Limits(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/v1/events/batch", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	buf.WriteString("[")
	for i := range 101 {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(eventJSON(fmt.Sprintf("x%d", i), "carol", "file_copied", t0))
	}
	buf.WriteString("]")
	rec, out := f.do(t, http.MethodPost, "/v1/events/batch", buf.String())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "exceeds max 100")
}

func TestListTemplates(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/v1/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", out["version"])

	templates := out["templates"].([]any)
	require.NotEmpty(t, templates)
	first := templates[0].(map[string]any)
	assert.NotEmpty(t, first["id"])
	_, err := time.ParseDuration(first["total_time_window"].(string))
	assert.NoError(t, err)
}

func TestActorProgress(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/v1/actors/nobody/narratives", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nobody", out["actor_id"])
	assert.Empty(t, out["narratives"])
}

func TestReloadConfig(t *testing.T) {
	f := newFixture(t)
	before := f.eng.Scorer()

	custom := baseConfig + `narratives:
  - id: share_only
    starter_patterns: [external_share]
    ordered_steps: [external_share]
    total_time_window: 30m
    base_score: 40
    reason: shared
`
	require.NoError(t, os.WriteFile(f.path, []byte(custom), 0o600))
	rec, out := f.do(t, http.MethodPost, "/v1/config/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["reloaded"])
	assert.EqualValues(t, 1, out["templates_count"])
	assert.NotSame(t, before, f.eng.Scorer())

	require.NoError(t, os.WriteFile(f.path, []byte("version: \"\"\n"), 0o600))
	rec, _ = f.do(t, http.MethodPost, "/v1/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, f.eng.Scorer().Narratives().Templates(), 1, "invalid config keeps the previous scorer")
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", out["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/events", eventJSON("m1", "dave", "file_copied", t0))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "argus_events_processed_total")
}
