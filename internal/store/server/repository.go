// Package server is the reference implementation of the remote session
// store: a small HTTP/JSON service over Postgres that replaces records
// wholesale. It performs no merging and carries no concurrency tokens;
// whatever arrives last wins.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/lockstep-games/lockstep/internal/models"
	"github.com/lockstep-games/lockstep/internal/store"
)

// NotifyChannel is the Postgres NOTIFY channel fired on every write, for
// feed consumers that listen on the database instead of the message bus.
const NotifyChannel = "lockstep_session_events"

// Repository is the storage contract behind the store service.
type Repository interface {
	Insert(ctx context.Context, record *models.SessionRecord) error
	Get(ctx context.Context, code string) (*models.SessionRecord, error)
	Put(ctx context.Context, code string, record *models.SessionRecord) error
	List(ctx context.Context) ([]*models.SessionRecord, error)
	InsertEvent(ctx context.Context, event SessionEvent) error
	RecentEvents(ctx context.Context, limit int32) ([]SessionEvent, error)
}

// SessionEvent is one row of write activity, kept for the operator dashboard.
type SessionEvent struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Schema creates the store tables. Applied by the server entrypoint.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	code TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_events (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresRepository stores whole records as JSONB keyed by session code.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate applies the schema.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply store schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, record *models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO sessions (code, record, created_at, updated_at)
VALUES ($1, $2, now(), now())`, record.Code, payload)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, code string) (*models.SessionRecord, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT record FROM sessions WHERE code = $1`, code).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return unmarshalRecord(payload), nil
}

func (r *PostgresRepository) Put(ctx context.Context, code string, record *models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE sessions SET record = $2, updated_at = now() WHERE code = $1`, code, payload)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	// Best-effort wake-up for LISTEN-based feed consumers.
	if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, code); err != nil {
		return fmt.Errorf("failed to notify session update: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.SessionRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT record FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []*models.SessionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, unmarshalRecord(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, event SessionEvent) error {
	var payload pqtype.NullRawMessage
	if len(event.Payload) > 0 {
		payload = pqtype.NullRawMessage{RawMessage: event.Payload, Valid: true}
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO session_events (code, event_type, payload) VALUES ($1, $2, $3)`,
		event.Code, event.EventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecentEvents(ctx context.Context, limit int32) ([]SessionEvent, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, code, event_type, payload, created_at
FROM session_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var event SessionEvent
		var payload pqtype.NullRawMessage
		if err := rows.Scan(&event.ID, &event.Code, &event.EventType, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		if payload.Valid {
			event.Payload = payload.RawMessage
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session events: %w", err)
	}
	return events, nil
}

// unmarshalRecord treats a malformed stored payload as an empty record, the
// same degradation the clients apply.
func unmarshalRecord(payload []byte) *models.SessionRecord {
	var record models.SessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return &models.SessionRecord{}
	}
	return &record
}
