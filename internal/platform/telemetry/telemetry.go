// Package telemetry wires OpenTelemetry tracing and a small Prometheus text
// metrics endpoint for the citas server.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of the collector's gRPC receiver
	SampleRatio    float64
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "citas"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1.0
	}
}

// Setup configures the global propagator and, when enabled, a tracer
// provider exporting over OTLP/gRPC. Call the returned shutdown func during
// graceful shutdown.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	cfg.applyDefaults()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

type echoContextKey struct{}

type tracedCall struct {
	c    echo.Context
	next echo.HandlerFunc
}

// TracingMiddleware starts a server span for every request. Spans are named
// after the HTTP method and the matched route pattern. Handler errors are
// rendered inside the span so the recorded status matches the response.
func TracingMiddleware(service string) echo.MiddlewareFunc {
	h := otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Context().Value(echoContextKey{}).(tracedCall)
		call.c.SetRequest(r)
		call.c.Response().Writer = w
		if err := call.next(call.c); err != nil {
			call.c.Error(err)
		}
	}), service, otelhttp.WithSpanNameFormatter(spanName))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := context.WithValue(req.Context(), echoContextKey{}, tracedCall{c: c, next: next})
			h.ServeHTTP(c.Response().Writer, req.WithContext(ctx))
			return nil
		}
	}
}

func spanName(_ string, r *http.Request) string {
	if call, ok := r.Context().Value(echoContextKey{}).(tracedCall); ok && call.c.Path() != "" {
		return r.Method + " " + call.c.Path()
	}
	return r.Method + " " + r.URL.Path
}
