package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"nostr-feed/internal/types"
)

// Store persists repository contents across restarts
type Store interface {
	LoadAll(ctx context.Context) ([]types.Event, error)
	Save(ctx context.Context, events []types.Event) error
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// SQLiteStore is a Store on a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the event database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pubkey TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		tags TEXT NOT NULL,
		content TEXT NOT NULL,
		sig TEXT NOT NULL,
		relays TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pubkey, created_at, kind, tags, content, sig, relays
		FROM events
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var evt types.Event
		var tagsJSON string
		var relaysJSON sql.NullString
		if err := rows.Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig, &relaysJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &evt.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags of %s: %w", evt.ID, err)
		}
		if relaysJSON.Valid {
			json.Unmarshal([]byte(relaysJSON.String), &evt.RelaysSeen)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig, relays)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET relays = excluded.relays
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, evt := range events {
		tags := evt.Tags
		if tags == nil {
			tags = [][]string{}
		}
		tagsJSON, _ := json.Marshal(tags)
		relaysJSON, _ := json.Marshal(evt.RelaysSeen)
		if _, err := stmt.ExecContext(ctx, evt.ID, evt.PubKey, evt.CreatedAt, evt.Kind,
			string(tagsJSON), evt.Content, evt.Sig, string(relaysJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
