package metrics

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	Operations metric.Int64Counter
	Duration   metric.Float64Histogram
	Hits       metric.Int64Counter
	Misses     metric.Int64Counter

	provider *sdkmetric.MeterProvider
}

// Setup builds a meter provider exporting to its own Prometheus registry and
// returns the scrape handler for it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{provider: provider}

	m.Operations, err = meter.Int64Counter(
		"kvshape_store_operations",
		metric.WithDescription("Total number of storage operations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Duration, err = meter.Float64Histogram(
		"kvshape_store_operation_duration_seconds",
		metric.WithDescription("Storage operation duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Hits, err = meter.Int64Counter(
		"kvshape_store_hits",
		metric.WithDescription("Total number of loads that found a live entry"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Misses, err = meter.Int64Counter(
		"kvshape_store_misses",
		metric.WithDescription("Total number of loads that found nothing"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

func (m *Metrics) RecordOperation(ctx context.Context, op, shape, outcome string, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("shape", shape),
		attribute.String("outcome", outcome),
	)

	m.Operations.Add(ctx, 1, labels)
	m.Duration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordHit(ctx context.Context, shape string) {
	m.Hits.Add(ctx, 1, metric.WithAttributes(attribute.String("shape", shape)))
}

func (m *Metrics) RecordMiss(ctx context.Context, shape string) {
	m.Misses.Add(ctx, 1, metric.WithAttributes(attribute.String("shape", shape)))
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
