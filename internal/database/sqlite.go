package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"canonical-go/internal/canonical"
	"canonical-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteIndex implements the LedgerIndex interface using SQLite. Events
// are stored with their full JSON payload so replay comparison sees
// exactly what was appended.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

// NewSQLiteIndex opens (or creates) a SQLite ledger index and runs any
// pending migrations. path can be a file path or ":memory:" for an
// in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger index: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; the pool must not
	// open a second one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// FindEvent returns the recorded event with the given dedup key, or nil.
func (s *SQLiteIndex) FindEvent(identifier string, eventType canonical.EventType, eventID string) (*canonical.Event, error) {
	var payload string
	err := s.db.QueryRow(
		"SELECT payload FROM events WHERE identifier = ? AND event_type = ? AND event_id = ?",
		identifier, string(eventType), eventID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding event: %w", err)
	}

	var event canonical.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("decoding recorded event: %w", err)
	}
	return &event, nil
}

// ListEvents returns every recorded event for an identifier and type.
func (s *SQLiteIndex) ListEvents(identifier string, eventType canonical.EventType) ([]canonical.Event, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM events WHERE identifier = ? AND event_type = ? ORDER BY event_id",
		identifier, string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []canonical.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var event canonical.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("decoding recorded event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// RecordEvent stores an applied event under its dedup key.
func (s *SQLiteIndex) RecordEvent(event canonical.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO events (identifier, event_type, event_id, version, event_date, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.Identifier, string(event.Type), event.EventID,
		event.Version, event.Timestamp.UTC().Format("2006-01-02"), string(payload),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// GetState returns the announcement state for an identifier, or nil.
func (s *SQLiteIndex) GetState(identifier string) (*canonical.EprintState, error) {
	var state canonical.EprintState
	var withdrawn int
	err := s.db.QueryRow(
		"SELECT identifier, latest_version, is_withdrawn, first_announced FROM eprint_state WHERE identifier = ?",
		identifier,
	).Scan(&state.Identifier, &state.LatestVersion, &withdrawn, &state.FirstAnnounced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting state: %w", err)
	}
	state.IsWithdrawn = withdrawn != 0
	return &state, nil
}

// UpsertState creates or replaces the state row for an identifier.
func (s *SQLiteIndex) UpsertState(state canonical.EprintState) error {
	withdrawn := 0
	if state.IsWithdrawn {
		withdrawn = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO eprint_state (identifier, latest_version, is_withdrawn, first_announced)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET
		   latest_version = excluded.latest_version,
		   is_withdrawn = excluded.is_withdrawn,
		   first_announced = excluded.first_announced`,
		state.Identifier, state.LatestVersion, withdrawn, state.FirstAnnounced,
	)
	if err != nil {
		return fmt.Errorf("upserting state: %w", err)
	}
	return nil
}

// Reset drops all recorded events and states ahead of a rebuild.
func (s *SQLiteIndex) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM events"); err != nil {
		return fmt.Errorf("clearing events: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM eprint_state"); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteIndex implements the LedgerIndex interface
var _ canonical.LedgerIndex = (*SQLiteIndex)(nil)
