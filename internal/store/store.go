package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a session id matches no row.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection holding the session ledger.
type Store struct {
	conn *pgx.Conn
}

// Record is one finished live session. Detection results are never stored.
type Record struct {
	ID          string
	Source      string
	Started     time.Time
	Ended       time.Time
	Frames      int
	Analyses    int
	Failures    int
	RateLimited int
	CadenceN    int
	Reason      string
	Label       string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the sessions table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			frames INT NOT NULL,
			analyses INT NOT NULL,
			failures INT NOT NULL,
			rate_limited INT NOT NULL,
			cadence INT NOT NULL,
			reason TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS sessions_started_at_idx ON sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordSession saves a finished session. Recording the same id twice
// overwrites the counters but keeps any label.
func (s *Store) RecordSession(ctx context.Context, r Record) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, source, started_at, ended_at, frames, analyses, failures, rate_limited, cadence, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			frames = EXCLUDED.frames,
			analyses = EXCLUDED.analyses,
			failures = EXCLUDED.failures,
			rate_limited = EXCLUDED.rate_limited,
			reason = EXCLUDED.reason
	`, r.ID, r.Source, r.Started, r.Ended, r.Frames, r.Analyses, r.Failures, r.RateLimited, r.CadenceN, r.Reason)
	return err
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, source, started_at, ended_at, frames, analyses, failures, rate_limited, cadence, reason, label
		FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Source, &r.Started, &r.Ended, &r.Frames, &r.Analyses,
			&r.Failures, &r.RateLimited, &r.CadenceN, &r.Reason, &r.Label); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSession looks a session up by its full id or a unique id prefix.
func (s *Store) GetSession(ctx context.Context, id string) (Record, error) {
	var r Record
	err := s.conn.QueryRow(ctx, `
		SELECT id, source, started_at, ended_at, frames, analyses, failures, rate_limited, cadence, reason, label
		FROM sessions WHERE id LIKE $1 || '%' ORDER BY started_at DESC LIMIT 1
	`, id).Scan(&r.ID, &r.Source, &r.Started, &r.Ended, &r.Frames, &r.Analyses,
		&r.Failures, &r.RateLimited, &r.CadenceN, &r.Reason, &r.Label)
	if err == pgx.ErrNoRows {
		return Record{}, errors.Wrap(ErrNotFound, id)
	}
	return r, err
}

// LabelSession attaches a free-text label to a session. The id may be a
// prefix, as printed by the sessions listing.
func (s *Store) LabelSession(ctx context.Context, id, label string) (string, error) {
	var full string
	err := s.conn.QueryRow(ctx, `
		UPDATE sessions SET label = $2
		WHERE id = (SELECT id FROM sessions WHERE id LIKE $1 || '%' ORDER BY started_at DESC LIMIT 1)
		RETURNING id
	`, id, label).Scan(&full)
	if err == pgx.ErrNoRows {
		return "", errors.Wrap(ErrNotFound, id)
	}
	return full, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS sessions CASCADE;`)
	return err
}
