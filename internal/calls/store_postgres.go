package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore keeps one row per session with the record as jsonb.
// The session document is the unit of persistence here, exactly as in the
// other backends; no per-field columns beyond the primary key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("calls: db is nil")
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS call_sessions (
    id         TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("calls: ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]CallSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM call_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var sess CallSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("calls: parse row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallSession, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM call_sessions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, false, nil
	}
	if err != nil {
		return CallSession{}, false, fmt.Errorf("calls: get %s: %w", id, err)
	}
	var sess CallSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return CallSession{}, false, fmt.Errorf("calls: parse %s: %w", id, err)
	}
	return sess, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, session CallSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	const upsert = `
INSERT INTO call_sessions (id, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, upsert, session.ID, raw); err != nil {
		return fmt.Errorf("calls: save %s: %w", session.ID, err)
	}
	return nil
}
