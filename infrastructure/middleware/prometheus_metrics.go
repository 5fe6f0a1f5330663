// Package middleware provides cross-cutting concerns for the arena.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-arena/infrastructure/llm"
	"github.com/ahrav/go-arena/internal/ports"
)

// Metric names routed to dedicated collectors. Anything else lands in the
// generic arena_events_total, arena_state and arena_observations vectors.
const (
	MetricLLMLatency      = "llm_latency_seconds"
	MetricLLMRequests     = "llm_requests_total"
	MetricLLMTokens       = "llm_tokens_total"
	MetricStoreFallback   = "store_fallback_total"
	MetricBackendFailures = "backend_failures_total"
	MetricRoundsRecorded  = "rounds_recorded_total"
	MetricTournaments     = "tournaments_completed_total"
	MetricBattlesVoted    = "battles_voted_total"
	MetricRatingDelta     = "rating_delta"
)

const (
	metricNamespace = "arena"
	unknownLabel    = "unknown"
)

// PrometheusMetrics implements ports.MetricsCollector using Prometheus. It
// covers backend traffic, store degradation, bracket progress and rating
// movement.
type PrometheusMetrics struct {
	llmLatency      *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	storeFallback   *prometheus.CounterVec
	backendFailures *prometheus.CounterVec
	rounds          *prometheus.CounterVec
	tournaments     *prometheus.CounterVec
	battles         *prometheus.CounterVec
	ratingDelta     prometheus.Histogram
	latency         *prometheus.HistogramVec
	events          *prometheus.CounterVec
	state           *prometheus.GaugeVec
	observations    *prometheus.HistogramVec

	breakerState    *prometheus.GaugeVec
	breakerTrips    *prometheus.CounterVec
	breakerOutcomes *prometheus.CounterVec
}

// NewPrometheusMetrics creates the arena collectors and registers them with
// reg. Passing prometheus.DefaultRegisterer exposes them on the default
// /metrics handler; tests pass a fresh prometheus.NewRegistry().
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		llmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      MetricLLMLatency,
				Help:      "Latency of contender backend calls.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricLLMRequests,
				Help:      "Contender backend calls by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricLLMTokens,
				Help:      "Tokens consumed by contender backends.",
			},
			[]string{"provider", "model", "token_type"},
		),
		storeFallback: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricStoreFallback,
				Help:      "Session store operations served by the in-process fallback.",
			},
			[]string{"operation", "namespace"},
		),
		backendFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricBackendFailures,
				Help:      "Contender responses replaced by a placeholder.",
			},
			[]string{"contender", "reason"},
		),
		rounds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricRoundsRecorded,
				Help:      "Tournament rounds recorded by choice.",
			},
			[]string{"choice"},
		),
		tournaments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricTournaments,
				Help:      "Tournaments that produced a final ranking.",
			},
			[]string{"early"},
		),
		battles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricBattlesVoted,
				Help:      "Single battles voted by preference.",
			},
			[]string{"preference"},
		),
		ratingDelta: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      MetricRatingDelta,
				Help:      "Absolute Elo change applied by one comparison.",
				Buckets:   []float64{1, 2, 4, 8, 12, 16, 20, 24, 28, 32},
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of arena operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "events_total",
				Help:      "Arena events without a dedicated collector.",
			},
			[]string{"metric"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "state",
				Help:      "Current arena state values.",
			},
			[]string{"metric"},
		),
		observations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "observations",
				Help:      "Arena value distributions without a dedicated collector.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per contender (0 closed, 1 open, 2 half-open).",
			},
			[]string{"contender"},
		),
		breakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Times a contender's circuit breaker opened.",
			},
			[]string{"contender"},
		),
		breakerOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Requests observed by circuit breakers by result.",
			},
			[]string{"contender", "result"},
		),
	}
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabel
}

// RecordLatency implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "token_type")).Add(value)
	case MetricStoreFallback:
		pm.storeFallback.WithLabelValues(label(labels, "operation"), label(labels, "namespace")).Add(value)
	case MetricBackendFailures:
		pm.backendFailures.WithLabelValues(label(labels, "contender"), label(labels, "reason")).Add(value)
	case MetricRoundsRecorded:
		pm.rounds.WithLabelValues(label(labels, "choice")).Add(value)
	case MetricTournaments:
		pm.tournaments.WithLabelValues(label(labels, "early")).Add(value)
	case MetricBattlesVoted:
		pm.battles.WithLabelValues(label(labels, "preference")).Add(value)
	default:
		pm.events.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.state.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
	case MetricRatingDelta:
		pm.ratingDelta.Observe(value)
	default:
		pm.observations.WithLabelValues(metric).Observe(value)
	}
}

// CircuitBreakerMetrics returns the breaker observer for one contender.
func (pm *PrometheusMetrics) CircuitBreakerMetrics(contender string) llm.CircuitBreakerMetrics {
	return &breakerMetrics{pm: pm, contender: contender}
}

type breakerMetrics struct {
	pm        *PrometheusMetrics
	contender string
}

func (b *breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	b.pm.breakerState.WithLabelValues(b.contender).Set(float64(state))
}

func (b *breakerMetrics) RecordTrip() { b.pm.breakerTrips.WithLabelValues(b.contender).Inc() }

func (b *breakerMetrics) RecordSuccess() {
	b.pm.breakerOutcomes.WithLabelValues(b.contender, "success").Inc()
}

func (b *breakerMetrics) RecordFailure() {
	b.pm.breakerOutcomes.WithLabelValues(b.contender, "failure").Inc()
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
