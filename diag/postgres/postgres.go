// Package postgres implements diag.Sink using PostgreSQL: an externally-
// owned *pgxpool.Pool injected via constructor, the caller retains
// ownership and closes it.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/vtrt/diag"
)

// Sink persists diag.Record values to PostgreSQL.
type Sink struct {
	pool *pgxpool.Pool
}

var _ diag.Sink = (*Sink)(nil)

// New creates a Sink using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it; Sink.Close is a no-op over the
// pool itself (see Close).
func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

// Init creates the diagnostics table. Safe to call multiple times.
func (s *Sink) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS diagnostics (
		id BIGSERIAL PRIMARY KEY,
		node INT NOT NULL,
		epoch TEXT NOT NULL,
		handler TEXT NOT NULL,
		trace_event BIGINT NOT NULL,
		reason TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("diag/postgres: init: %w", err)
	}
	return nil
}

// Record persists one fatal-abort diagnostic.
func (s *Sink) Record(ctx context.Context, rec diag.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO diagnostics (node, epoch, handler, trace_event, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Node, rec.Epoch, rec.Handler, rec.TraceEvent, rec.Reason, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("diag/postgres: record: %w", err)
	}
	return nil
}

// Close is a no-op: the pool is externally owned and the caller closes it.
func (s *Sink) Close() error { return nil }
