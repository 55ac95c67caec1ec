package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const defaultEndpoint = "http://localhost:4318/v1/traces"

// Endpoint splits an OTLP traces URL or host:port into exporter settings.
func Endpoint(raw string) (host, path string, insecure bool) {
	if raw == "" {
		raw = defaultEndpoint
	}
	host, path, insecure = "localhost:4318", "/v1/traces", true
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil {
			if u.Host != "" {
				host = u.Host
			}
			if u.Path != "" {
				path = u.Path
			}
			insecure = u.Scheme == "http"
		}
		return host, path, insecure
	}
	return raw, path, insecure
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP and
// returns its shutdown function. An empty endpoint disables tracing.
func InitTracer(ctx context.Context, serviceName, version, endpoint string, log logrus.FieldLogger) (func(context.Context) error, error) {
	if endpoint == "" {
		log.Info("tracing disabled: no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	host, path, insecure := Endpoint(endpoint)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithURLPath(path),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.WithFields(logrus.Fields{"service": serviceName, "endpoint": host + path}).Info("OpenTelemetry initialized")
	return tp.Shutdown, nil
}
