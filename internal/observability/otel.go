// Package observability sets up process-wide telemetry: the OpenTelemetry
// tracer provider exporting over OTLP/gRPC, and the zerolog logger with an
// optional rotating file.
package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-movie-reviews/internal/config"
)

// exporterFactory builds the span exporter; tests swap it for an in-memory one.
var exporterFactory = func(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	return otlptrace.New(ctx, otlptracegrpc.NewClient(exporterOptions(cfg)...))
}

func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

func serviceResource(ctx context.Context, name, version string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
			semconv.ServiceNamespace(serviceNamespace),
		),
	)
}

const serviceNamespace = "moviereviews"

// SetupOTel installs a batching tracer provider exporting over OTLP/gRPC and
// the W3C trace-context and baggage propagators. It returns the provider's
// shutdown. When tracing is disabled the global no-op provider stays, so the
// spans opened by services and the GORM plugin cost nothing. On error the
// globals are left untouched.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := serviceResource(ctx, cfg.ServiceName, version)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Shutdowns collects cleanup steps run in reverse registration order.
type Shutdowns []func(context.Context) error

// Add registers fn.
func (s *Shutdowns) Add(fn func(context.Context) error) { *s = append(*s, fn) }

// Run calls every step, last registered first, and joins their errors.
func (s Shutdowns) Run(ctx context.Context) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
