package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tunecast/distributor/delivery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter             metric.Meter
	stateCountGauge   metric.Int64ObservableGauge
	retryDepthGauge   metric.Int64ObservableGauge
	webhookCounter    metric.Int64Counter
	escalationCounter metric.Int64Counter
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"distributor",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Attempt count gauge (per delivery state)
	oe.stateCountGauge, err = oe.meter.Int64ObservableGauge(
		"delivery.attempts.count",
		metric.WithDescription("Number of delivery attempts by state"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(oe.observeStateCounts),
	)
	if err != nil {
		return fmt.Errorf("creating state count gauge: %w", err)
	}

	// Retry queue depth gauge
	oe.retryDepthGauge, err = oe.meter.Int64ObservableGauge(
		"delivery.retry.queue.depth",
		metric.WithDescription("Number of attempts waiting on a retry backoff"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(oe.observeRetryDepth),
	)
	if err != nil {
		return fmt.Errorf("creating retry depth gauge: %w", err)
	}

	// Webhook reconciliation outcomes counter
	oe.webhookCounter, err = oe.meter.Int64Counter(
		"delivery.webhook.events",
		metric.WithDescription("Inbound webhook events by reconciliation outcome"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return fmt.Errorf("creating webhook counter: %w", err)
	}

	// Sweep escalation counter
	oe.escalationCounter, err = oe.meter.Int64Counter(
		"delivery.sweep.escalations",
		metric.WithDescription("Attempts surfaced past the recovery sweep budget"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return fmt.Errorf("creating escalation counter: %w", err)
	}

	return nil
}

// WebhookReconciled counts one inbound webhook by outcome
func (oe *OTelExporter) WebhookReconciled(outcome delivery.ReconcileOutcome) {
	oe.webhookCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("webhook.outcome", outcome.String()),
	))
}

// SweepEscalated counts one recovery escalation
func (oe *OTelExporter) SweepEscalated() {
	oe.escalationCounter.Add(context.Background(), 1)
}

// observeStateCounts is a callback that reports attempt counts by state
func (oe *OTelExporter) observeStateCounts(ctx context.Context, observer metric.Int64Observer) error {
	stateCounts, err := oe.collector.GetStateCounts(ctx)
	if err != nil {
		return err
	}

	for state, count := range stateCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.state", state),
		))
	}

	return nil
}

// observeRetryDepth is a callback that reports the retry schedule size
func (oe *OTelExporter) observeRetryDepth(ctx context.Context, observer metric.Int64Observer) error {
	depth, err := oe.collector.GetRetryQueueDepth(ctx)
	if err != nil {
		return err
	}

	observer.Observe(depth)
	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
