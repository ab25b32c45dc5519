// Package diag defines the sink interface persisted fatal-abort
// diagnostics write through: when the runtime aborts, it writes a
// diagnostic that includes node id, epoch id, handler id, and (if
// available) the trace event id, behind a swappable-backend interface.
package diag

import "context"

// Record is one fatal-abort diagnostic, correlatable with a traced run via
// TraceEvent.
type Record struct {
	Node       int
	Epoch      string
	Handler    string
	TraceEvent uint64
	Reason     string
	Timestamp  int64
}

// Sink persists Records for postmortem correlation. Implementations must be
// safe for concurrent use from the scheduler loop's abort path.
type Sink interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards every record; the default when no sink is configured.
type NopSink struct{}

func (NopSink) Record(context.Context, Record) error { return nil }
func (NopSink) Close() error                          { return nil }
