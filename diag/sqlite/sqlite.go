// Package sqlite implements diag.Sink using pure-Go SQLite: a single shared
// connection with SetMaxOpenConns(1) to serialize writers and avoid
// SQLITE_BUSY. This is the default sink for the single-process example
// programs in cmd/.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nevindra/vtrt/diag"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Sink persists diag.Record values to a local SQLite file.
type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ diag.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets a structured logger; operations are logged at Debug/Error
// level when set.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// New opens (creating if absent) a SQLite file at dbPath and prepares its
// diagnostics table.
func New(ctx context.Context, dbPath string, opts ...Option) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("diag/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Sink{db: db, logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(s)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS diagnostics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node INTEGER NOT NULL,
		epoch TEXT NOT NULL,
		handler TEXT NOT NULL,
		trace_event INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("diag/sqlite: create table: %w", err)
	}
	s.logger.Debug("diag/sqlite: sink opened", "path", dbPath)
	return s, nil
}

// Record persists one fatal-abort diagnostic.
func (s *Sink) Record(ctx context.Context, rec diag.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (node, epoch, handler, trace_event, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Node, rec.Epoch, rec.Handler, rec.TraceEvent, rec.Reason, rec.Timestamp,
	)
	if err != nil {
		s.logger.Error("diag/sqlite: record failed", "error", err)
		return fmt.Errorf("diag/sqlite: record: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool   { return false }
func (discardHandler) Handle(context.Context, slog.Record) error  { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler       { return d }
func (d discardHandler) WithGroup(string) slog.Handler            { return d }
