package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/event"
)

// Narrative is a persisted, completed multi-step behavior.
type Narrative struct {
	ID             string    `json:"narrative_id"`
	Type           string    `json:"narrative_type"`
	PrimaryActorID string    `json:"primary_actor_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Score          float64   `json:"score"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventLink ties one contributing event to a narrative stage. Links are
// stored in slice order.
type EventLink struct {
	EventID string `json:"event_id"`
	Stage   string `json:"stage"`
}

// NarrativeEvent is a link row joined with its journaled event. Event is nil
// when the event never reached the journal.
type NarrativeEvent struct {
	Position int          `json:"position"`
	EventID  string       `json:"event_id"`
	Stage    string       `json:"stage"`
	Event    *event.Event `json:"event,omitempty"`
}

func validateNarrative(n Narrative) error {
	switch {
	case strings.TrimSpace(n.ID) == "":
		return fmt.Errorf("narrative_id is required: %w", ErrInvalid)
	case strings.TrimSpace(n.Type) == "":
		return fmt.Errorf("narrative_type is required: %w", ErrInvalid)
	case strings.TrimSpace(n.PrimaryActorID) == "":
		return fmt.Errorf("primary_actor_id is required: %w", ErrInvalid)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createNarrative(ctx context.Context, x execer, n Narrative) (bool, error) {
	if err := validateNarrative(n); err != nil {
		return false, err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := x.ExecContext(ctx, `
INSERT INTO narratives(narrative_id, narrative_type, primary_actor_id, start_time, end_time, score, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(narrative_id) DO NOTHING
`, n.ID, n.Type, n.PrimaryActorID, ts(n.StartTime), ts(n.EndTime), n.Score, n.Reason, ts(n.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert narrative: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert narrative rows affected: %w", err)
	}
	return affected > 0, nil
}

func linkEvents(ctx context.Context, x execer, narrativeID string, links []EventLink) error {
	for i, l := range links {
		if strings.TrimSpace(l.EventID) == "" {
			return fmt.Errorf("link %d: event_id is required: %w", i, ErrInvalid)
		}
		if _, err := x.ExecContext(ctx, `
INSERT INTO narrative_events(narrative_id, event_id, stage, position)
VALUES (?, ?, ?, ?)
ON CONFLICT(narrative_id, event_id, stage) DO NOTHING
`, narrativeID, l.EventID, l.Stage, i); err != nil {
			return fmt.Errorf("link event %s: %w", l.EventID, err)
		}
	}
	return nil
}

// CreateNarrative inserts n. It reports false when a narrative with the same
// id already exists.
func (s *Store) CreateNarrative(ctx context.Context, n Narrative) (bool, error) {
	return createNarrative(ctx, s.db, n)
}

// LinkEvents attaches contributing events to an existing narrative.
func (s *Store) LinkEvents(ctx context.Context, narrativeID string, links []EventLink) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM narratives WHERE narrative_id = ?`, narrativeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check narrative: %w", err)
	}
	return linkEvents(ctx, s.db, narrativeID, links)
}

// SaveNarrative creates n and links its events in one transaction. A
// narrative needs at least one link. Saving the same narrative again is a
// no-op and reports false.
func (s *Store) SaveNarrative(ctx context.Context, n Narrative, links []EventLink) (bool, error) {
	if len(links) == 0 {
		return false, fmt.Errorf("save narrative %s: no linked events: %w", n.ID, ErrInvalid)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin save narrative: %w", err)
	}
	created, err := createNarrative(ctx, tx, n)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, err
	}
	if !created {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}
	if err := linkEvents(ctx, tx, n.ID, links); err != nil {
		tx.Rollback() //nolint:errcheck
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit save narrative: %w", err)
	}
	return true, nil
}

func (s *Store) GetNarrative(ctx context.Context, narrativeID string) (Narrative, error) {
	var (
		n                     Narrative
		start, end, createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT narrative_id, narrative_type, primary_actor_id, start_time, end_time, score, reason, created_at
FROM narratives WHERE narrative_id = ?
`, narrativeID).Scan(&n.ID, &n.Type, &n.PrimaryActorID, &start, &end, &n.Score, &n.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Narrative{}, ErrNotFound
	}
	if err != nil {
		return Narrative{}, fmt.Errorf("get narrative: %w", err)
	}
	if n.StartTime, err = parseTS(start); err != nil {
		return Narrative{}, fmt.Errorf("parse narrative start_time: %w", err)
	}
	if n.EndTime, err = parseTS(end); err != nil {
		return Narrative{}, fmt.Errorf("parse narrative end_time: %w", err)
	}
	if n.CreatedAt, err = parseTS(createdAt); err != nil {
		return Narrative{}, fmt.Errorf("parse narrative created_at: %w", err)
	}
	return n, nil
}

// ListNarrativeEvents returns a narrative's links in stage order, each joined
// with its journaled event when one exists.
func (s *Store) ListNarrativeEvents(ctx context.Context, narrativeID string) ([]NarrativeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ne.position, ne.event_id, ne.stage, e.event_id IS NOT NULL,
	COALESCE(e.event_id, ''), COALESCE(e.actor_id, ''), COALESCE(e.file_id, ''), COALESCE(e.event_type, ''),
	COALESCE(e.ts, ''), COALESCE(e.name, ''), COALESCE(e.mime_type, ''), e.size,
	e.file_created_at, e.file_modified_at, COALESCE(e.shared_externally, 0), COALESCE(e.md5_checksum, ''),
	COALESCE(e.received_at, '')
FROM narrative_events ne
LEFT JOIN events e ON e.event_id = ne.event_id
WHERE ne.narrative_id = ?
ORDER BY ne.position
`, narrativeID)
	if err != nil {
		return nil, fmt.Errorf("list narrative events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []NarrativeEvent
	for rows.Next() {
		var (
			ne     NarrativeEvent
			joined bool
			row    eventRow
		)
		dest := append([]any{&ne.Position, &ne.EventID, &ne.Stage, &joined}, row.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan narrative event: %w", err)
		}
		if joined {
			e, err := row.decode()
			if err != nil {
				return nil, err
			}
			ne.Event = &e
		}
		out = append(out, ne)
	}
	return out, rows.Err()
}
