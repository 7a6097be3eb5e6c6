// Package store persists baselines, the event journal, completed narratives
// and file reputation in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// GetBaseline returns the stored profile for actorID, or ErrNotFound.
func (s *Store) GetBaseline(ctx context.Context, actorID string) (baseline.UserBaseline, error) {
	var (
		b          baseline.UserBaseline
		start, end sql.NullString
		cleanup    int
		updatedAt  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT actor_id, active_start, active_end, avg_daily_deletions, max_historical_deletions, has_performed_mass_cleanup, updated_at
FROM user_baselines WHERE actor_id = ?
`, actorID).Scan(&b.ActorID, &start, &end, &b.AvgDailyDeletions, &b.MaxHistoricalDeletions, &cleanup, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return baseline.UserBaseline{}, ErrNotFound
	}
	if err != nil {
		return baseline.UserBaseline{}, fmt.Errorf("get baseline: %w", err)
	}
	if start.Valid && end.Valid {
		w, err := baseline.ParseClockWindow(start.String, end.String)
		if err != nil {
			return baseline.UserBaseline{}, fmt.Errorf("get baseline %s: %w", actorID, err)
		}
		b.ActiveWindow = &w
	}
	b.HasPerformedMassCleanup = cleanup != 0
	if b.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return baseline.UserBaseline{}, fmt.Errorf("parse baseline updated_at: %w", err)
	}
	return b, nil
}

func (s *Store) UpsertBaseline(ctx context.Context, b baseline.UserBaseline) error {
	if strings.TrimSpace(b.ActorID) == "" {
		return fmt.Errorf("upsert baseline: actor_id is required: %w", ErrInvalid)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	var start, end any
	if b.ActiveWindow != nil {
		start = baseline.FormatClock(b.ActiveWindow.Start)
		end = baseline.FormatClock(b.ActiveWindow.End)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_baselines(actor_id, active_start, active_end, avg_daily_deletions, max_historical_deletions, has_performed_mass_cleanup, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(actor_id) DO UPDATE SET
	active_start=excluded.active_start,
	active_end=excluded.active_end,
	avg_daily_deletions=excluded.avg_daily_deletions,
	max_historical_deletions=excluded.max_historical_deletions,
	has_performed_mass_cleanup=excluded.has_performed_mass_cleanup,
	updated_at=excluded.updated_at
`, b.ActorID, start, end, b.AvgDailyDeletions, b.MaxHistoricalDeletions, boolToInt(b.HasPerformedMassCleanup), ts(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableI64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTS(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTS(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
