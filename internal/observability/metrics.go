package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"autoloom/internal/logging"
)

// MetricsCollector manages all metrics for autoloom
type MetricsCollector struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider
	logger   logging.Logger

	// Backend metrics
	requests metric.Int64Counter
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
	breakers metric.Int64Counter

	// Scoring metrics
	scores    metric.Int64Histogram
	fallbacks metric.Int64Counter

	// Session metrics
	rounds         metric.Int64Counter
	roundDuration  metric.Float64Histogram
	historyEntries metric.Int64UpDownCounter

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port" yaml:"prometheus_port"` // 0 disables the standalone listener
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose Record methods are no-ops.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	logger = logging.OrNop(logger)
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("autoloom")

	collector := &MetricsCollector{registry: registry, provider: provider, logger: logger}

	if collector.requests, err = meter.Int64Counter(
		"autoloom.llm.requests.total",
		metric.WithDescription("Backend requests by final outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	if collector.attempts, err = meter.Int64Counter(
		"autoloom.llm.attempts.total",
		metric.WithDescription("Individual attempts made by the retry loop"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}
	if collector.latency, err = meter.Float64Histogram(
		"autoloom.llm.latency",
		metric.WithDescription("Backend request latency in seconds, including backoff"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	if collector.scores, err = meter.Int64Histogram(
		"autoloom.classifier.score",
		metric.WithDescription("Scores assigned by the classifier"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	); err != nil {
		return nil, fmt.Errorf("failed to create score histogram: %w", err)
	}
	if collector.fallbacks, err = meter.Int64Counter(
		"autoloom.classifier.fallbacks.total",
		metric.WithDescription("Classifications that fell back to the neutral score"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fallback counter: %w", err)
	}
	if collector.breakers, err = meter.Int64Counter(
		"autoloom.breaker.transitions.total",
		metric.WithDescription("Circuit breaker state changes by backend"),
	); err != nil {
		return nil, fmt.Errorf("failed to create breaker counter: %w", err)
	}
	if collector.rounds, err = meter.Int64Counter(
		"autoloom.rounds.total",
		metric.WithDescription("Finished rounds by result"),
		metric.WithUnit("{round}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rounds counter: %w", err)
	}
	if collector.roundDuration, err = meter.Float64Histogram(
		"autoloom.round.duration",
		metric.WithDescription("Round duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create round duration histogram: %w", err)
	}
	if collector.historyEntries, err = meter.Int64UpDownCounter(
		"autoloom.history.entries",
		metric.WithDescription("Committed history entries in the live session"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create history gauge: %w", err)
	}

	if config.PrometheusPort > 0 {
		collector.StartPrometheusServer(config.PrometheusPort)
	}
	return collector, nil
}

// Handler serves the collector's registry in Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartPrometheusServer starts a standalone metrics listener.
func (m *MetricsCollector) StartPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Prometheus server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.prometheusServer != nil {
		if err := m.prometheusServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// RecordRequest records one backend call after the retry loop finished.
func (m *MetricsCollector) RecordRequest(ctx context.Context, backend, model, outcome string, latency time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, latency.Seconds(), attrs)
}

// RecordAttempt records a single attempt inside the retry loop.
func (m *MetricsCollector) RecordAttempt(ctx context.Context, backend, kind string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a breaker moving into state.
func (m *MetricsCollector) RecordBreakerTransition(ctx context.Context, backend, state string) {
	if m == nil || m.breakers == nil {
		return
	}
	m.breakers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("state", state),
	))
}

// RecordScore records a classifier score.
func (m *MetricsCollector) RecordScore(ctx context.Context, model string, score int, fallback bool) {
	if m == nil || m.scores == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.scores.Record(ctx, int64(score), attrs)
	if fallback {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}

// RecordRound records a finished round. result is committed, manual or error.
func (m *MetricsCollector) RecordRound(ctx context.Context, result string, duration time.Duration) {
	if m == nil || m.rounds == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.rounds.Add(ctx, 1, attrs)
	m.roundDuration.Record(ctx, duration.Seconds(), attrs)
	if result != "error" {
		m.historyEntries.Add(ctx, 1)
	}
}
