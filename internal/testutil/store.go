// Package testutil holds shared test fixtures.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/store"
)

// NewStore opens a migrated SQLite store in a temp dir, closed on cleanup.
func NewStore(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "argus-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	if err := store.ApplyMigrations(ctx, st.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return st, ctx
}

// Event builds a minimal valid event.
func Event(id, actorID string, typ event.Type, at time.Time) event.Event {
	return event.Event{
		ID:        id,
		ActorID:   actorID,
		FileID:    "file-" + id,
		Type:      typ,
		Timestamp: at,
		Name:      id + ".txt",
		MimeType:  "text/plain",
	}
}
