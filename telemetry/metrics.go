package telemetry

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Global telemetry handles.
var (
	Tracer = otel.Tracer("github.com/arclabs561/runctl")
	Meter  = otel.Meter("github.com/arclabs561/runctl")

	// PrometheusRegistry serves pull-based scraping. The OTEL exporter
	// registers itself here during Init.
	PrometheusRegistry *promclient.Registry

	// Metric instruments, created by Init.
	CyclesCompleted   metric.Int64Counter
	CycleDuration     metric.Float64Histogram
	ResourcesObserved metric.Int64Gauge
	ProvidersDegraded metric.Int64Gauge
	CostAtRisk        metric.Float64Gauge
	CleanupDeleted    metric.Int64Counter
	JobStepsRun       metric.Int64Counter
)

// Config for telemetry initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Init sets up the metric provider with a Prometheus exporter and
// creates every instrument. Call once at startup; the returned shutdown
// flushes the provider.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "runctl"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	PrometheusRegistry = registry

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter("github.com/arclabs561/runctl")

	if err := initInstruments(); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	return provider.Shutdown, nil
}

func initInstruments() error {
	var err error

	CyclesCompleted, err = Meter.Int64Counter("runctl.cycles.completed.total",
		metric.WithDescription("Total number of completed collection cycles"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycles counter: %w", err)
	}

	CycleDuration, err = Meter.Float64Histogram("runctl.cycle.duration.seconds",
		metric.WithDescription("Duration of collection cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	ResourcesObserved, err = Meter.Int64Gauge("runctl.resources.observed.current",
		metric.WithDescription("Resources in the latest registry snapshot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resources gauge: %w", err)
	}

	ProvidersDegraded, err = Meter.Int64Gauge("runctl.providers.degraded.current",
		metric.WithDescription("Providers degraded in the latest cycle"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create degraded gauge: %w", err)
	}

	CostAtRisk, err = Meter.Float64Gauge("runctl.cleanup.cost_at_risk.dollars",
		metric.WithDescription("Accumulated cost of current cleanup candidates"),
		metric.WithUnit("{dollar}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cost gauge: %w", err)
	}

	CleanupDeleted, err = Meter.Int64Counter("runctl.cleanup.deleted.total",
		metric.WithDescription("Total resources deleted by cleanup execution"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cleanup counter: %w", err)
	}

	JobStepsRun, err = Meter.Int64Counter("runctl.job.steps.total",
		metric.WithDescription("Total resilience job steps executed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create job steps counter: %w", err)
	}

	return nil
}
