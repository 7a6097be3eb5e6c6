package store

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS user_baselines (
	actor_id TEXT PRIMARY KEY,
	active_start TEXT,
	active_end TEXT,
	avg_daily_deletions REAL NOT NULL DEFAULT 0,
	max_historical_deletions INTEGER NOT NULL DEFAULT 0,
	has_performed_mass_cleanup INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	CHECK((active_start IS NULL) = (active_end IS NULL))
);

CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	file_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	ts TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	size INTEGER,
	file_created_at TEXT,
	file_modified_at TEXT,
	shared_externally INTEGER NOT NULL DEFAULT 0,
	md5_checksum TEXT NOT NULL DEFAULT '',
	received_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_actor_ts ON events(actor_id, ts);

CREATE TABLE IF NOT EXISTS narratives (
	narrative_id TEXT PRIMARY KEY,
	narrative_type TEXT NOT NULL,
	primary_actor_id TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	score REAL NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS narratives_actor ON narratives(primary_actor_id, start_time);

CREATE TABLE IF NOT EXISTS narrative_events (
	narrative_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY(narrative_id, event_id, stage),
	FOREIGN KEY(narrative_id) REFERENCES narratives(narrative_id) ON DELETE CASCADE
);
`,
		DownSQL: `
DROP TABLE IF EXISTS narrative_events;
DROP TABLE IF EXISTS narratives;
DROP TABLE IF EXISTS events;
DROP TABLE IF EXISTS user_baselines;
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE TABLE IF NOT EXISTS file_reputation (
	file_id TEXT PRIMARY KEY,
	md5_checksum TEXT NOT NULL,
	positives INTEGER NOT NULL DEFAULT 0,
	found INTEGER NOT NULL DEFAULT 1,
	scanned_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_md5 ON events(file_id, md5_checksum) WHERE md5_checksum != '';
`,
		DownSQL: `
DROP INDEX IF EXISTS events_md5;
DROP TABLE IF EXISTS file_reputation;
`,
	},
	{
		Version: 3,
		UpSQL: `
CREATE TABLE IF NOT EXISTS reputation_attempts (
	file_id TEXT PRIMARY KEY,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	last_attempt_ns INTEGER NOT NULL
);
`,
		DownSQL: `
DROP TABLE IF EXISTS reputation_attempts;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackAll reverts every migration, newest first.
func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("unrecord migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
