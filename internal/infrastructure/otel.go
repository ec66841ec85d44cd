package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	ServiceName = "profusion"
	MeterName   = "profusion"
)

// Metrics holds the application-level instruments. All methods are nil-safe
// so components can take an optional *Metrics.
type Metrics struct {
	meter metric.Meter

	datasetUploads   metric.Int64Counter
	cleaningRuns     metric.Int64Counter
	cleaningDuration metric.Float64Histogram
	fusionRuns       metric.Int64Counter

	// Handler serves the Prometheus scrape endpoint.
	Handler http.Handler

	provider *sdkmetric.MeterProvider
	logger   *slog.Logger
}

// InitializeMetrics sets up the OpenTelemetry meter provider with a
// Prometheus exporter and registers the application instruments.
func InitializeMetrics(logger *slog.Logger) (*Metrics, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(MeterName)

	m := &Metrics{
		meter:    meter,
		Handler:  promhttp.Handler(),
		provider: provider,
		logger:   logger.With(slog.String("component", "metrics")),
	}

	if m.datasetUploads, err = meter.Int64Counter("profusion_dataset_uploads_total",
		metric.WithDescription("Accepted dataset uploads by type")); err != nil {
		return nil, err
	}
	if m.cleaningRuns, err = meter.Int64Counter("profusion_cleaning_runs_total",
		metric.WithDescription("Cleaning runs by outcome")); err != nil {
		return nil, err
	}
	if m.cleaningDuration, err = meter.Float64Histogram("profusion_cleaning_duration_seconds",
		metric.WithDescription("Wall time of cleaning runs"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.fusionRuns, err = meter.Int64Counter("profusion_fusion_runs_total",
		metric.WithDescription("Customer and order fusion runs")); err != nil {
		return nil, err
	}

	m.logger.Info("metrics initialized")
	return m, nil
}

// RecordUpload counts an accepted dataset upload.
func (m *Metrics) RecordUpload(ctx context.Context, datasetType string) {
	if m == nil {
		return
	}
	m.datasetUploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", datasetType)))
}

// RecordCleaningRun counts a finished cleaning run and its duration.
func (m *Metrics) RecordCleaningRun(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cleaningRuns.Add(ctx, 1, attrs)
	m.cleaningDuration.Record(ctx, seconds, attrs)
}

// RecordFusionRun counts a fusion run.
func (m *Metrics) RecordFusionRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.fusionRuns.Add(ctx, 1)
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
