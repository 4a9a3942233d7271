// Package localstate persists per-device state that must survive reloads:
// the session identity and the command/challenge high-water marks. Nothing
// in here is ever shared between devices.
package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested state has never been written (or was
// unreadable and is treated as absent).
var ErrNotFound = errors.New("not found")

// Watermark names. Namespaced so unrelated local state never collides.
const (
	MarkCommand   = "lockstep.command"
	MarkChallenge = "lockstep.challenge"
)

// Identity is the persisted device identity for a session.
type Identity struct {
	SessionCode   string
	DisplayName   string
	ParticipantID string
	Owner         bool
}

// Store is a single-device sqlite store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the device-local database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS identity (
	id INTEGER PRIMARY KEY CHECK(id = 1),
	session_code TEXT NOT NULL,
	display_name TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	owner INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watermarks (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("failed to migrate local state: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveIdentity stores the device identity, replacing any previous one.
func (s *Store) SaveIdentity(ctx context.Context, ident Identity) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO identity(id, session_code, display_name, participant_id, owner, updated_at)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	session_code=excluded.session_code,
	display_name=excluded.display_name,
	participant_id=excluded.participant_id,
	owner=excluded.owner,
	updated_at=excluded.updated_at
`, ident.SessionCode, ident.DisplayName, ident.ParticipantID, boolToInt(ident.Owner), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// LoadIdentity returns the stored identity, or ErrNotFound. A row that fails
// to scan is treated as absent rather than propagated.
func (s *Store) LoadIdentity(ctx context.Context) (Identity, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_code, display_name, participant_id, owner FROM identity WHERE id = 1`)
	var ident Identity
	var owner int
	if err := row.Scan(&ident.SessionCode, &ident.DisplayName, &ident.ParticipantID, &owner); err != nil {
		return Identity{}, ErrNotFound
	}
	ident.Owner = owner != 0
	return ident, nil
}

// ClearIdentity forgets the stored identity.
func (s *Store) ClearIdentity(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}

// Watermark returns the persisted high-water mark for name, or 0 when none
// has been written yet.
func (s *Store) Watermark(ctx context.Context, name string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM watermarks WHERE name = ?`, name)
	var value int64
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		// Corrupted state degrades to absent.
		return 0, nil
	}
	return value, nil
}

// SetWatermark persists a new high-water mark. Values never move backwards.
func (s *Store) SetWatermark(ctx context.Context, name string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO watermarks(name, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	value=MAX(watermarks.value, excluded.value),
	updated_at=excluded.updated_at
`, name, value, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set watermark %s: %w", name, err)
	}
	return nil
}

// ResetWatermarks forgets all high-water marks. Used when a device leaves a
// session so a fresh session starts clean.
func (s *Store) ResetWatermarks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watermarks`); err != nil {
		return fmt.Errorf("failed to reset watermarks: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
