// Package observer provides OTEL-based observability for the parley
// pipeline.
//
// It exposes a parley.Tracer backed by OpenTelemetry and a set of metric
// instruments fed from the orchestrator's framework event stream. Users
// export to any OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/parley-go/parley/observer"

// Instruments holds all OTEL instruments used by the observer.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	EventsProcessed  metric.Int64Counter
	EventsBlocked    metric.Int64Counter
	Deliveries       metric.Int64Counter
	DeliveryFailures metric.Int64Counter
	HookErrors       metric.Int64Counter
	ReentryBlocked   metric.Int64Counter

	// Histograms
	ChainDepth metric.Int64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "parley"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
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

	inst, err := NewInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

// NewInstruments builds the instrument set on the global providers. When
// Init has not run, the globals are no-ops and recording is free.
func NewInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	eventsProcessed, err := meter.Int64Counter("parley.events.processed",
		metric.WithDescription("Room events persisted by the pipeline"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	eventsBlocked, err := meter.Int64Counter("parley.events.blocked",
		metric.WithDescription("Room events blocked by hooks or policy"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("parley.deliveries",
		metric.WithDescription("Successful transport deliveries"),
		metric.WithUnit("{delivery}"))
	if err != nil {
		return nil, err
	}

	deliveryFailures, err := meter.Int64Counter("parley.delivery.failures",
		metric.WithDescription("Transport deliveries that exhausted retries or hit an open breaker"),
		metric.WithUnit("{delivery}"))
	if err != nil {
		return nil, err
	}

	hookErrors, err := meter.Int64Counter("parley.hook.errors",
		metric.WithDescription("Hooks that failed or timed out"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	reentryBlocked, err := meter.Int64Counter("parley.reentry.blocked",
		metric.WithDescription("Response events blocked by the chain depth ceiling"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	chainDepth, err := meter.Int64Histogram("parley.chain.depth",
		metric.WithDescription("Chain depth of reentry events at block time"),
		metric.WithUnit("{generation}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           tracer,
		Meter:            meter,
		EventsProcessed:  eventsProcessed,
		EventsBlocked:    eventsBlocked,
		Deliveries:       deliveries,
		DeliveryFailures: deliveryFailures,
		HookErrors:       hookErrors,
		ReentryBlocked:   reentryBlocked,
		ChainDepth:       chainDepth,
	}, nil
}
