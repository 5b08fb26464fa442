// Package observability provides logging, OpenTelemetry tracing, metrics and
// audit logging for the vectordb service.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names every span this module creates.
const TracerName = "github.com/efebarandurmaz/vectordb"

// TracingConfig selects the exporter and sampling. Tracing is off when
// OTLPEndpoint is empty; spans are then created on the global no-op provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is a host:port gRPC collector address.
	OTLPEndpoint string
	// Insecure dials the collector without TLS.
	Insecure bool

	// SampleRate is the ratio of root spans kept, clamped to [0, 1].
	// Child spans follow their parent's decision.
	SampleRate float64
}

// DefaultTracingConfig exports nothing and samples everything once an
// endpoint is set.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "vectordb",
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// TracerProvider owns the SDK provider when tracing is enabled.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP/gRPC and
// the W3C trace-context propagator.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Enabled reports whether spans are exported.
func (tp *TracerProvider) Enabled() bool { return tp.provider != nil }

// Shutdown flushes buffered spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the module tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for vectordb operations.
const (
	SpanKindCollection = "collection"
	SpanKindInsert     = "insert"
	SpanKindLookup     = "lookup"
	SpanKindIntegrity  = "integrity"
)

// StartCollectionSpan starts a span for a collection lifecycle or read
// operation such as create, delete or describe.
func StartCollectionSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "collection."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vectordb.span.kind", SpanKindCollection),
			attribute.String("vectordb.collection", collection),
		),
	)
}

// StartInsertSpan starts a span for an insert batch.
func StartInsertSpan(ctx context.Context, collection string, batch int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "insert",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vectordb.span.kind", SpanKindInsert),
			attribute.String("vectordb.collection", collection),
			attribute.Int("insert.batch_size", batch),
		),
	)
}

// RecordInsertResult records how the pairs of a batch were classified.
func RecordInsertResult(span trace.Span, newPairs, duplicatePairs, indexed int) {
	span.SetAttributes(
		attribute.Int("insert.new_pairs", newPairs),
		attribute.Int("insert.duplicate_pairs", duplicatePairs),
		attribute.Int("insert.indexed_vectors", indexed),
	)
}

// StartLookupSpan starts a span for a lookup batch.
func StartLookupSpan(ctx context.Context, collection string, queries, k int, exact bool) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "lookup",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vectordb.span.kind", SpanKindLookup),
			attribute.String("vectordb.collection", collection),
			attribute.Int("lookup.queries", queries),
			attribute.Int("lookup.k", k),
			attribute.Bool("lookup.exact", exact),
		),
	)
}

// RecordLookupResult records the neighbor count and any orphaned hits.
func RecordLookupResult(span trace.Span, neighbors, orphans int) {
	span.SetAttributes(
		attribute.Int("lookup.neighbors", neighbors),
		attribute.Int("lookup.orphans", orphans),
	)
}

// StartIntegritySpan starts a span for a consistency check.
func StartIntegritySpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "integrity.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vectordb.span.kind", SpanKindIntegrity),
		),
	)
}

// RecordIntegrityResult records the outcome of a consistency check.
func RecordIntegrityResult(span trace.Span, checked, violations int) {
	span.SetAttributes(
		attribute.Int("integrity.collections", checked),
		attribute.Int("integrity.violations", violations),
	)
	if violations > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d violations", violations))
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
