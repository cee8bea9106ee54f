// Package tracing initializes the process-wide OpenTelemetry tracer
// provider. Grounded on the teacher's internal/observability/otel.go:
// OTLP-over-HTTP exporter when an endpoint is configured, stdout exporter
// otherwise, ratio sampling, graceful no-op when tracing is disabled.
package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardpipe/cardpipe/internal/platform/logger"
)

// Config names the service for the resource attributes span consumers group
// traces by; sampling and exporter target come from the OTEL_* environment.
type Config struct {
	ServiceName string
	Environment string
	Version     string
}

var (
	once     sync.Once
	shutdown func(context.Context) error = func(context.Context) error { return nil }
)

// Init sets the global tracer provider once per process. Safe to call even
// when OTEL_ENABLED is unset: it then installs a provider with a zero
// sampler, so Tracer(...).Start is nearly free and every span is a no-op.
func Init(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	once.Do(func() {
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "cardpipe"
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
				semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			),
		)
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))
		if !enabled() {
			sampler = sdktrace.ParentBased(sdktrace.NeverSample())
		}

		var tp *sdktrace.TracerProvider
		if enabled() {
			exporter, expErr := buildExporter(ctx, log)
			if expErr != nil && log != nil {
				log.Warn("otel exporter init failed (continuing)", "error", expErr)
			}
			if exporter != nil {
				tp = sdktrace.NewTracerProvider(
					sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
					sdktrace.WithSampler(sampler),
					sdktrace.WithResource(res),
				)
			}
		}
		if tp == nil {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
		}

		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		if log != nil && enabled() {
			log.Info("otel tracing initialized", "service", serviceName, "endpoint", endpoint())
		}
	})
	return shutdown
}

// Tracer returns the named tracer off the global provider installed by Init.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func enabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func sampleRatio() float64 {
	v := strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO"))
	if v == "" {
		return 1.0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 1.0
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func endpoint() string {
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func insecure() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func buildExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	ep := endpoint()
	if ep != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep)}
		if insecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	if log != nil {
		log.Warn("otel enabled with no OTEL_EXPORTER_OTLP_ENDPOINT, using stdout exporter")
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}
