package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/diag"
)

// WithDiagSink attaches a diag.Sink that persists every fatal-abort
// diagnostic this node raises. Defaults to diag.NopSink.
func WithDiagSink(sink diag.Sink) Option {
	return func(o *options) { o.diagSink = sink }
}

// Abort is the single call site for the §7 "fatal configuration" /
// "resource exhaustion" / "serialization failure" taxonomy: it logs a
// structured diagnostic through slog's default logger and persists the same record to rt's diag.Sink before the
// caller decides how to exit the process.
func (rt *Runtime) Abort(ctx context.Context, err *vtrt.FatalConfigError) {
	slog.Error("vtrt: fatal abort",
		"node", err.Node,
		"epoch", err.Epoch.String(),
		"handler", err.Handler.String(),
		"trace_event", err.TraceEvent,
		"reason", err.Reason,
	)
	rec := diag.Record{
		Node:       int(err.Node),
		Epoch:      err.Epoch.String(),
		Handler:    err.Handler.String(),
		TraceEvent: err.TraceEvent,
		Reason:     err.Reason,
		Timestamp:  time.Now().UnixNano(),
	}
	if sinkErr := rt.diagSink.Record(ctx, rec); sinkErr != nil {
		slog.Error("vtrt: diag sink record failed", "error", sinkErr)
	}
}
