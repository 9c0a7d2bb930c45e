package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/browserbridge"

// Tracing modes accepted by NewTracerProvider.
const (
	TracingOff    = "off"
	TracingStdout = "stdout"
)

// Span attribute keys. The request credential never becomes an attribute.
var (
	AttrSessionID = attribute.Key("browserbridge.session.id")
	AttrTaskLen   = attribute.Key("browserbridge.task.length")
	AttrSteps     = attribute.Key("browserbridge.run.steps")
	AttrOutcome   = attribute.Key("browserbridge.run.outcome")
	AttrModelID   = attribute.Key("browserbridge.model.id")
)

// TracerProvider holds the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider creates a tracer provider for mode and installs it
// globally. With TracingOff the global no-op provider is left in place.
func NewTracerProvider(serviceName, mode string) (*TracerProvider, error) {
	return newTracerProvider(serviceName, mode, os.Stdout)
}

func newTracerProvider(serviceName, mode string, out io.Writer) (*TracerProvider, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", TracingOff:
		return &TracerProvider{}, nil
	case TracingStdout:
	default:
		return nil, fmt.Errorf("unknown tracing mode %q", mode)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Enabled reports whether spans are being exported.
func (tp *TracerProvider) Enabled() bool {
	return tp != nil && tp.provider != nil
}

// Shutdown flushes and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if !tp.Enabled() {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the bridge tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, opts...)
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
