package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "logtriage"
	serviceVersion = "0.1.0"
)

// Config holds tracing configuration
type Config struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Provider wraps the OpenTelemetry tracer provider
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a new tracing provider. A disabled config yields the
// global no-op tracer.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer: otel.Tracer(serviceName),
		}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
		sdktrace.WithResource(res),
	}

	if cfg.Endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(serviceName),
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate > 0 && rate < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
	return sdktrace.AlwaysSample()
}

// Tracer returns the tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and shuts down the tracer provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}

// TraceRun creates a span covering one triage run
func TraceRun(ctx context.Context, tracer trace.Tracer, mode string, partitions int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline.mode", mode),
			attribute.Int("pipeline.partitions", partitions),
		),
	)
}

// TracePartition creates a span for one partition of a parallel run
func TracePartition(ctx context.Context, tracer trace.Tracer, index int, source string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pipeline.partition",
		trace.WithAttributes(
			attribute.Int("partition.index", index),
			attribute.String("partition.source", source),
		),
	)
}

// TraceOutput creates a span for delivering a report to a sink
func TraceOutput(ctx context.Context, tracer trace.Tracer, sinkName string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "output.send",
		trace.WithAttributes(
			attribute.String("output.sink", sinkName),
			attribute.Int("output.bytes", size),
		),
	)
}
