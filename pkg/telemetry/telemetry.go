package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/config"
	"github.com/tweetarchive/tweets/pkg/logging"
)

var (
	tracer trace.Tracer
	meter  otelmetric.Meter
)

type shutdownFunc func(context.Context) error

// Init installs the tracer and meter providers for one run. Spans go to
// Jaeger when a collector URL is set; metrics go to the Prometheus default
// registry when enabled. Instruments created before Init are no-ops.
func Init(cfg *config.TelemetryConfig, runID string) (func(), error) {
	if !cfg.Enabled {
		logging.GetLogger().Debug("Telemetry disabled")
		return func() {}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
			attribute.String("run_id", runID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdowns []shutdownFunc
	if cfg.JaegerURL != "" {
		fn, err := initTracing(cfg.JaegerURL, res)
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
	}
	if cfg.PrometheusEnabled {
		fn, err := initMetrics(res)
		if err != nil {
			runShutdowns(shutdowns)
			return nil, err
		}
		shutdowns = append(shutdowns, fn)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = otel.Tracer(cfg.ServiceName)
	meter = otel.Meter(cfg.ServiceName)

	return func() { runShutdowns(shutdowns) }, nil
}

func initTracing(endpoint string, res *resource.Resource) (shutdownFunc, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logging.GetLogger().Info("Jaeger exporter initialized", zap.String("url", endpoint))
	return tp.Shutdown, nil
}

func initMetrics(res *resource.Resource) (shutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	logging.GetLogger().Info("Prometheus exporter initialized")
	return mp.Shutdown, nil
}

// runShutdowns flushes every provider, each bounded to three seconds
func runShutdowns(fns []shutdownFunc) {
	for _, fn := range fns {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := fn(ctx); err != nil {
			logging.GetLogger().Error("Error shutting down telemetry", zap.Error(err))
		}
		cancel()
	}
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("tweets")
	}
	return tracer
}

// Meter returns the global meter
func Meter() otelmetric.Meter {
	if meter == nil {
		return noop.NewMeterProvider().Meter("tweets")
	}
	return meter
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Counter returns a named int64 counter; instrument errors fall back to a no-op counter
func Counter(name, description string) otelmetric.Int64Counter {
	c, err := Meter().Int64Counter(name, otelmetric.WithDescription(description))
	if err != nil {
		logging.GetLogger().Warn("Failed to create counter", zap.String("name", name), zap.Error(err))
		c, _ = noop.NewMeterProvider().Meter("tweets").Int64Counter(name)
	}
	return c
}

// Histogram returns a named float64 histogram in seconds
func Histogram(name, description string) otelmetric.Float64Histogram {
	h, err := Meter().Float64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit("s"))
	if err != nil {
		logging.GetLogger().Warn("Failed to create histogram", zap.String("name", name), zap.Error(err))
		h, _ = noop.NewMeterProvider().Meter("tweets").Float64Histogram(name)
	}
	return h
}
