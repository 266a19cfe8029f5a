// Package telemetry provides OpenTelemetry distributed tracing for docsage.
// It instruments the retrieval and generation pipeline with spans for each
// stage, supports W3C Trace Context propagation, and exports to OTLP or
// stdout.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/docsage/docsage"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "docsage",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes docsage-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// NewProvider wraps an externally managed tracer. Shutdown is a no-op;
// the caller owns the TracerProvider lifecycle.
func NewProvider(tracer trace.Tracer) *Provider {
	return &Provider{tracer: tracer}
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the docsage tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartRequest creates a root span for an incoming HTTP request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.request",
		trace.WithAttributes(attribute.String("docsage.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartEmbedding creates a span for the embedding stage.
func (p *Provider) StartEmbedding(ctx context.Context, textCount int, isQuery bool) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.embedding",
		trace.WithAttributes(
			attribute.Int("docsage.embedding.text_count", textCount),
			attribute.Bool("docsage.embedding.is_query", isQuery),
		),
	)
}

// StartRetrieval creates a span for hybrid vector search.
func (p *Provider) StartRetrieval(ctx context.Context, topK int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.retrieval",
		trace.WithAttributes(attribute.Int("docsage.retrieval.top_k", topK)),
	)
}

// StartRerank creates a span for cross-encoder reranking.
func (p *Provider) StartRerank(ctx context.Context, candidateCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.rerank",
		trace.WithAttributes(attribute.Int("docsage.rerank.candidate_count", candidateCount)),
	)
}

// StartLLM creates a span for a chat completion call.
func (p *Provider) StartLLM(ctx context.Context, provider, model string, streaming bool) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.llm",
		trace.WithAttributes(
			attribute.String("docsage.llm.provider", provider),
			attribute.String("docsage.llm.model", model),
			attribute.Bool("docsage.llm.streaming", streaming),
		),
	)
}

// StartIngest creates a span for a document ingest run.
func (p *Provider) StartIngest(ctx context.Context, source string, chunkCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.ingest",
		trace.WithAttributes(
			attribute.String("docsage.ingest.source", source),
			attribute.Int("docsage.ingest.chunk_count", chunkCount),
		),
	)
}

// StartExtract creates a span for document fetching and chunking.
func (p *Provider) StartExtract(ctx context.Context, kind string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "docsage.extract",
		trace.WithAttributes(attribute.String("docsage.extract.kind", kind)),
	)
}

// RecordUsage adds token and cost attributes to a span.
func RecordUsage(span trace.Span, promptTokens, completionTokens int, cost float64) {
	span.SetAttributes(
		attribute.Int("docsage.llm.prompt_tokens", promptTokens),
		attribute.Int("docsage.llm.completion_tokens", completionTokens),
		attribute.Float64("docsage.llm.cost", cost),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
