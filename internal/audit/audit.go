package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists an audit trail of control actions (pause, resume, cancel,
// retry, delete) requested through the proxy. Job state itself lives
// upstream; this records who asked for which transition, nothing more.
//
// A nil *Store is valid and drops every write, so callers need no guards
// when auditing is not configured.
type Store struct {
	pool *pgxpool.Pool
}

// Entry is one recorded control action.
type Entry struct {
	ID       string    `json:"id"`
	JobID    string    `json:"job_id"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail,omitempty"`
	Recorded time.Time `json:"recorded_at"`
}

// New creates a pooled connection to Postgres and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse audit dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect audit store: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS control_audit (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS control_audit_job_idx ON control_audit (job_id, recorded_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Record appends one audit row. No-op on a nil Store.
func (s *Store) Record(ctx context.Context, jobID, action, detail string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO control_audit (id, job_id, action, detail, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.NewString(), jobID, action, detail)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// Recent returns the newest entries for operational inspection.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, action, detail, recorded_at
		FROM control_audit ORDER BY recorded_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Action, &e.Detail, &e.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
