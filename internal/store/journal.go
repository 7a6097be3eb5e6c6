package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/event"
)

const eventColumns = `event_id, actor_id, file_id, event_type, ts, name, mime_type, size, file_created_at, file_modified_at, shared_externally, md5_checksum, received_at`

// RecordEvent appends e to the journal. Re-recording an event id is a no-op.
func (s *Store) RecordEvent(ctx context.Context, e event.Event) error {
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.ActorID) == "" {
		return fmt.Errorf("record event: id and actor_id are required: %w", ErrInvalid)
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events(`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING
`, e.ID, e.ActorID, e.FileID, string(e.Type), ts(e.Timestamp), e.Name, e.MimeType, nullableI64(e.Size),
		nullableTS(e.FileCreatedAt), nullableTS(e.FileModifiedAt), boolToInt(e.SharedExternally), e.MD5Checksum, ts(e.ReceivedAt))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListActors returns every actor with at least one journaled event.
func (s *Store) ListActors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT actor_id FROM events ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListActorEvents returns an actor's journaled events in timestamp order.
func (s *Store) ListActorEvents(ctx context.Context, actorID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE actor_id = ? ORDER BY ts, event_id`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list actor events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActorActivity adapts the journal to the baseline analyzer.
func (s *Store) ListActorActivity(ctx context.Context, actorID string) ([]baseline.Activity, error) {
	events, err := s.ListActorEvents(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]baseline.Activity, 0, len(events))
	for _, e := range events {
		out = append(out, baseline.Activity{Timestamp: e.Timestamp, Type: e.Type})
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// eventRow holds the raw columns of one events row.
type eventRow struct {
	e                    event.Event
	typ, at, received    string
	size                 sql.NullInt64
	fileCreated, fileMod sql.NullString
	shared               int
}

func (r *eventRow) dest() []any {
	return []any{&r.e.ID, &r.e.ActorID, &r.e.FileID, &r.typ, &r.at, &r.e.Name, &r.e.MimeType, &r.size,
		&r.fileCreated, &r.fileMod, &r.shared, &r.e.MD5Checksum, &r.received}
}

func (r *eventRow) decode() (event.Event, error) {
	e := r.e
	e.Type = event.Type(r.typ)
	e.SharedExternally = r.shared != 0
	if r.size.Valid {
		v := r.size.Int64
		e.Size = &v
	}
	var err error
	if e.Timestamp, err = parseTS(r.at); err != nil {
		return event.Event{}, fmt.Errorf("parse event ts: %w", err)
	}
	if e.ReceivedAt, err = parseTS(r.received); err != nil {
		return event.Event{}, fmt.Errorf("parse event received_at: %w", err)
	}
	if e.FileCreatedAt, err = parseNullableTS(r.fileCreated); err != nil {
		return event.Event{}, fmt.Errorf("parse file_created_at: %w", err)
	}
	if e.FileModifiedAt, err = parseNullableTS(r.fileMod); err != nil {
		return event.Event{}, fmt.Errorf("parse file_modified_at: %w", err)
	}
	return e, nil
}

func scanEvent(r rowScanner) (event.Event, error) {
	var row eventRow
	if err := r.Scan(row.dest()...); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	return row.decode()
}
