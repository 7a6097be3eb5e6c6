package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reputation is the cached hash-reputation verdict for a file.
type Reputation struct {
	FileID      string
	MD5Checksum string
	Positives   int
	Found       bool
	ScannedAt   time.Time
}

// FileRef identifies a journaled file awaiting a reputation scan.
type FileRef struct {
	FileID      string
	MD5Checksum string
}

// GetReputation returns the cached verdict for fileID, or ErrNotFound when the
// file has not been scanned.
func (s *Store) GetReputation(ctx context.Context, fileID string) (Reputation, error) {
	var (
		r         Reputation
		found     int
		scannedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT file_id, md5_checksum, positives, found, scanned_at FROM file_reputation WHERE file_id = ?
`, fileID).Scan(&r.FileID, &r.MD5Checksum, &r.Positives, &found, &scannedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Reputation{}, ErrNotFound
	}
	if err != nil {
		return Reputation{}, fmt.Errorf("get reputation: %w", err)
	}
	r.Found = found != 0
	if r.ScannedAt, err = parseTS(scannedAt); err != nil {
		return Reputation{}, fmt.Errorf("parse reputation scanned_at: %w", err)
	}
	return r, nil
}

func (s *Store) UpsertReputation(ctx context.Context, r Reputation) error {
	if strings.TrimSpace(r.FileID) == "" {
		return fmt.Errorf("upsert reputation: file_id is required: %w", ErrInvalid)
	}
	if r.ScannedAt.IsZero() {
		r.ScannedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO file_reputation(file_id, md5_checksum, positives, found, scanned_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(file_id) DO UPDATE SET
	md5_checksum=excluded.md5_checksum,
	positives=excluded.positives,
	found=excluded.found,
	scanned_at=excluded.scanned_at
`, r.FileID, r.MD5Checksum, r.Positives, boolToInt(r.Found), ts(r.ScannedAt))
	if err != nil {
		return fmt.Errorf("upsert reputation: %w", err)
	}
	return nil
}

// RecordScanFailure notes a failed reputation lookup for fileID so the file
// moves behind files that have not been tried yet.
func (s *Store) RecordScanFailure(ctx context.Context, fileID, reason string) error {
	if strings.TrimSpace(fileID) == "" {
		return fmt.Errorf("record scan failure: file_id is required: %w", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reputation_attempts(file_id, attempts, last_error, last_attempt_ns)
VALUES (?, 1, ?, ?)
ON CONFLICT(file_id) DO UPDATE SET
	attempts=attempts+1,
	last_error=excluded.last_error,
	last_attempt_ns=excluded.last_attempt_ns
`, fileID, reason, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("record scan failure: %w", err)
	}
	return nil
}

// ListUnscannedFiles returns up to limit journaled files that carry a
// checksum but have no reputation row yet. Files never attempted come first,
// then those whose last failed attempt is oldest.
func (s *Store) ListUnscannedFiles(ctx context.Context, limit int) ([]FileRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT e.file_id, MAX(e.md5_checksum)
FROM events e
LEFT JOIN file_reputation r ON r.file_id = e.file_id
LEFT JOIN reputation_attempts a ON a.file_id = e.file_id
WHERE e.md5_checksum != '' AND e.file_id != '' AND r.file_id IS NULL
GROUP BY e.file_id
ORDER BY COALESCE(MAX(a.last_attempt_ns), 0), e.file_id
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unscanned files: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []FileRef
	for rows.Next() {
		var f FileRef
		if err := rows.Scan(&f.FileID, &f.MD5Checksum); err != nil {
			return nil, fmt.Errorf("scan file ref: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
