package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/messenger"
)

// MessengerOptions adapts Instruments into the messenger.WithOnSend/
// WithOnRecv hooks engine.WithMessengerOptions passes straight through to
// messenger.New, so a Runtime built with telemetry enabled counts every
// send/receive without the messenger package importing telemetry itself.
func (in *Instruments) MessengerOptions() []messenger.Option {
	return []messenger.Option{
		messenger.WithOnSend(func(dest vtrt.NodeID, handler vtrt.HandlerID, size int) {
			ctx := context.Background()
			in.MessagesSent.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("dest", int(dest)),
			))
			in.BytesSent.Add(ctx, int64(size), metric.WithAttributes(
				attribute.Int("dest", int(dest)),
			))
		}),
		messenger.WithOnRecv(func(from vtrt.NodeID, handler vtrt.HandlerID, size int) {
			ctx := context.Background()
			in.MessagesRecv.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("from", int(from)),
			))
		}),
	}
}

// ObserveHandlerDuration records a handler's wall-clock execution time,
// the way a caller wraps vtrt.Dispatch to time it.
func (in *Instruments) ObserveHandlerDuration(ctx context.Context, handler vtrt.HandlerID, start time.Time) {
	in.HandlerDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
}

// ObserveEpochTermination records the wall-clock gap between finishedEpoch
// and the epoch's action queue firing.
func (in *Instruments) ObserveEpochTermination(ctx context.Context, latency time.Duration) {
	in.EpochTermination.Record(ctx, float64(latency.Microseconds())/1000.0)
}

// ObserveSchedulerIdle records time spent in one idle Progressable poll.
func (in *Instruments) ObserveSchedulerIdle(ctx context.Context, dur time.Duration) {
	in.SchedulerIdle.Record(ctx, float64(dur.Microseconds())/1000.0)
}
