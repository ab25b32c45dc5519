// Package telemetry instruments the Active Messenger and scheduler with
// OTEL traces, metrics and logs: an Instruments struct filled in by Init,
// plus a shutdown func the caller defers. This package owns the instrument
// wiring only; it never defines a wire trace format (that stays an
// external collaborator's concern).
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/vtrt/telemetry"

// Instruments holds the OTEL instruments for the Active Messenger and
// scheduler. The message counters are fed through MessengerOptions; the
// histograms are fed only by callers of the Observe* methods, which no
// package in this module calls.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	MessagesSent     metric.Int64Counter
	MessagesRecv     metric.Int64Counter
	BytesSent        metric.Int64Counter
	HandlerDuration  metric.Float64Histogram
	EpochTermination metric.Float64Histogram
	SchedulerIdle    metric.Float64Histogram
}

// Init sets up OTEL trace, metric and log providers with OTLP HTTP
// exporters, reading endpoint configuration from the standard OTEL_* env
// vars. Returns a shutdown func that must run on process exit.
func Init(ctx context.Context, nodeID int) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("vtrt")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	messagesSent, err := meter.Int64Counter("vtrt.messages.sent",
		metric.WithDescription("Messages sent via the Active Messenger"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	messagesRecv, err := meter.Int64Counter("vtrt.messages.received",
		metric.WithDescription("Handler invocations dispatched from inbound messages"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	bytesSent, err := meter.Int64Counter("vtrt.bytes.sent",
		metric.WithDescription("Serialized bytes sent on the wire"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	handlerDuration, err := meter.Float64Histogram("vtrt.handler.duration",
		metric.WithDescription("Handler execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	epochTermination, err := meter.Float64Histogram("vtrt.epoch.termination_latency",
		metric.WithDescription("Time from finishedEpoch to the action queue firing"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	schedulerIdle, err := meter.Float64Histogram("vtrt.scheduler.idle_duration",
		metric.WithDescription("Time spent in the scheduler's idle Progressable poll"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           tracer,
		Meter:            meter,
		Logger:           logger,
		MessagesSent:     messagesSent,
		MessagesRecv:     messagesRecv,
		BytesSent:        bytesSent,
		HandlerDuration:  handlerDuration,
		EpochTermination: epochTermination,
		SchedulerIdle:    schedulerIdle,
	}, nil
}
