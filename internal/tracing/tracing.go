// Package tracing provides OpenTelemetry tracing for inbound streams, tool calls and
// weather API requests.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	mcpweather "github.com/miyamo2/mcp-weather"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	instrumentationName = "github.com/miyamo2/mcp-weather"
)

// Tracer wraps a tracer provider and the instrumentation built on it.
type Tracer struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
	enabled    bool
	shutdown   func(context.Context) error
}

// Setup creates a Tracer exporting to exporter and installs it as the global provider.
//
// With ExporterNone the returned Tracer records nothing and its middlewares are pass-through.
func Setup(ctx context.Context, exporter, endpoint, serviceVersion string, logger *zap.Logger) (*Tracer, error) {
	var exp sdktrace.SpanExporter
	var err error
	switch exporter {
	case ExporterNone, "":
		logger.Info("tracing disabled")
		return Disabled(), nil
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		var opts []otlptracegrpc.Option
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName("mcp-weather"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := New(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(t.propagator)
	logger.Info("tracing initialized", zap.String("exporter", exporter), zap.String("endpoint", endpoint))
	return t, nil
}

// New creates an enabled Tracer on an SDK provider built from options.
func New(options ...sdktrace.TracerProviderOption) *Tracer {
	tp := sdktrace.NewTracerProvider(options...)
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	return &Tracer{
		provider:   tp,
		propagator: propagator,
		tracer:     tp.Tracer(instrumentationName),
		enabled:    true,
		shutdown:   tp.Shutdown,
	}
}

// Disabled returns a Tracer that records nothing.
func Disabled() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		provider:   tp,
		propagator: propagation.NewCompositeTextMapPropagator(),
		tracer:     tp.Tracer(instrumentationName),
		shutdown:   func(context.Context) error { return nil },
	}
}

// Shutdown flushes and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// HTTPMiddleware starts a server span for every inbound request.
func (t *Tracer) HTTPMiddleware(next http.Handler) http.Handler {
	if !t.enabled {
		return next
	}
	return otelhttp.NewHandler(next, "mcp-weather-http",
		otelhttp.WithTracerProvider(t.provider),
		otelhttp.WithPropagators(t.propagator),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

// Transport starts a client span for every request sent through next.
func (t *Tracer) Transport(next http.RoundTripper) http.RoundTripper {
	if !t.enabled {
		return next
	}
	return otelhttp.NewTransport(next,
		otelhttp.WithTracerProvider(t.provider),
		otelhttp.WithPropagators(t.propagator),
	)
}

// ToolMiddleware wraps every tool call in a span and hands its context to the handler.
func (t *Tracer) ToolMiddleware(next mcpweather.ToolHandlerFunc) mcpweather.ToolHandlerFunc {
	return func(c mcpweather.ToolContext) error {
		ctx, span := t.tracer.Start(c.Context(), "tools/call "+c.ToolName(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("mcp.tool", c.ToolName()),
				attribute.String("mcp.session_id", c.SessionID()),
			))
		defer span.End()

		c.SetContext(ctx)
		err := next(c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
