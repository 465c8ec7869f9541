package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/jordanhubbard/contentloom"

var (
	// Custom metrics, no-ops until Init succeeds.
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	StageLatency  metric.Float64Histogram
)

func init() {
	_ = initMetrics(otel.Meter(instrumentationName))
}

// Init initializes OpenTelemetry tracing with an OTLP gRPC exporter. An
// empty endpoint leaves the global no-op provider in place.
func Init(ctx context.Context, serviceName, version, otelEndpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if otelEndpoint == "" {
		logger.Info("tracing disabled", zap.String("component", "Telemetry"))
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := initMetrics(otel.Meter(serviceName)); err != nil {
		return nil, err
	}

	logger.Info("telemetry initialized", zap.String("component", "Telemetry"), zap.String("endpoint", otelEndpoint))

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

func initMetrics(meter metric.Meter) error {
	var err error

	RunsStarted, err = meter.Int64Counter(
		"contentloom.runs.started",
		metric.WithDescription("Number of orchestration runs started"),
	)
	if err != nil {
		return err
	}

	RunsCompleted, err = meter.Int64Counter(
		"contentloom.runs.completed",
		metric.WithDescription("Number of orchestration runs completed"),
	)
	if err != nil {
		return err
	}

	StageLatency, err = meter.Float64Histogram(
		"contentloom.stage.latency",
		metric.WithDescription("Pipeline stage latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// Tracer returns the contentloom tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartStage opens a span for one pipeline stage. The returned end function
// records err on the span and the stage latency histogram.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := Tracer().Start(ctx, "contentloom."+stage, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		StageLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("stage", stage)))
	}
}
