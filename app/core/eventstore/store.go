// Package eventstore keeps a small per-user cache of recently touched
// calendar events. Disambiguation lists and "last event" shortcuts read
// from it; it is a display cache, never the source of truth.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedmate/app/core/calendar"
)

// Events kept per user; the oldest entries are pruned past this.
const recentCap = 10

type Store struct {
	conn *sql.DB
}

func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "schedmate.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	store := &Store{conn: conn}
	if err := store.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			user_id    TEXT NOT NULL,
			event_id   TEXT NOT NULL,
			title      TEXT NOT NULL,
			start_at   INTEGER NOT NULL,
			end_at     INTEGER NOT NULL,
			url        TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_updated ON events(user_id, updated_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Record upserts an event into the user's recent list and prunes the list
// back to the cap.
func (s *Store) Record(ctx context.Context, userID string, ref calendar.EventRef) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(ref.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	now := time.Now().UnixNano()
	query := `INSERT INTO events (user_id, event_id, title, start_at, end_at, url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, event_id) DO UPDATE SET
			title = excluded.title,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			url = excluded.url,
			updated_at = excluded.updated_at`
	if _, err := s.conn.ExecContext(ctx, query,
		userID, ref.ID, ref.Title, ref.Start.Unix(), ref.End.Unix(), ref.URL, now); err != nil {
		return err
	}

	prune := `DELETE FROM events WHERE user_id = ? AND event_id NOT IN (
		SELECT event_id FROM events WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?
	)`
	_, err := s.conn.ExecContext(ctx, prune, userID, userID, recentCap)
	return err
}

// Recent returns the user's cached events, most recently touched first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]calendar.EventRef, error) {
	if limit <= 0 || limit > recentCap {
		limit = recentCap
	}
	query := `SELECT event_id, title, start_at, end_at, url FROM events
		WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]calendar.EventRef, 0, limit)
	for rows.Next() {
		var (
			ref      calendar.EventRef
			startSec int64
			endSec   int64
		)
		if err := rows.Scan(&ref.ID, &ref.Title, &startSec, &endSec, &ref.URL); err != nil {
			return nil, err
		}
		ref.Start = time.Unix(startSec, 0).UTC()
		ref.End = time.Unix(endSec, 0).UTC()
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Last returns the most recently touched event for the user.
func (s *Store) Last(ctx context.Context, userID string) (calendar.EventRef, error) {
	refs, err := s.Recent(ctx, userID, 1)
	if err != nil {
		return calendar.EventRef{}, err
	}
	if len(refs) == 0 {
		return calendar.EventRef{}, sql.ErrNoRows
	}
	return refs[0], nil
}

// Remove drops an event from the user's recent list.
func (s *Store) Remove(ctx context.Context, userID string, eventID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM events WHERE user_id = ? AND event_id = ?`, userID, eventID)
	return err
}
