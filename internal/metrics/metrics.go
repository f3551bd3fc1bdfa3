// Package metrics exposes Prometheus metrics for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// EngineMetrics collects engine-level metrics on a private registry.
type EngineMetrics struct {
	registry *prometheus.Registry

	PredictionsTotal   *prometheus.CounterVec
	PredictionStake    prometheus.Histogram
	ResolutionsTotal   *prometheus.CounterVec
	PayoutPoints       *prometheus.CounterVec
	OddsLatency        *prometheus.HistogramVec
	OddsCacheTotal     *prometheus.CounterVec
	LeaderboardTotal   *prometheus.CounterVec
	SnapshotsTotal     prometheus.Counter
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// New creates the metric set and registers it with a fresh registry.
func New() *EngineMetrics {
	m := &EngineMetrics{
		registry: prometheus.NewRegistry(),

		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_predictions_total",
				Help: "Prediction submissions by result",
			},
			[]string{"result"},
		),
		PredictionStake: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pollmarket_prediction_stake_points",
				Help:    "Stake of accepted predictions in points",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_resolutions_total",
				Help: "Poll resolutions by outcome",
			},
			[]string{"outcome"},
		),
		PayoutPoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_payout_points_total",
				Help: "Points moved at settlement",
			},
			[]string{"kind"},
		),
		OddsLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pollmarket_odds_compute_seconds",
				Help:    "Time to compute market odds or analytics",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"kind"},
		),
		OddsCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_odds_cache_total",
				Help: "Odds cache lookups by result",
			},
			[]string{"result"},
		),
		LeaderboardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_leaderboard_requests_total",
				Help: "Leaderboard requests by timeframe",
			},
			[]string{"timeframe"},
		),
		SnapshotsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pollmarket_snapshots_total",
				Help: "Market snapshots recorded",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollmarket_http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pollmarket_http_request_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	m.registry.MustRegister(
		m.PredictionsTotal,
		m.PredictionStake,
		m.ResolutionsTotal,
		m.PayoutPoints,
		m.OddsLatency,
		m.OddsCacheTotal,
		m.LeaderboardTotal,
		m.SnapshotsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestLatency,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The Record helpers are safe on a nil receiver so services can run without
// metrics in tests.

// RecordPrediction counts a submission and, when accepted, its stake.
func (m *EngineMetrics) RecordPrediction(result string, points int64) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(result).Inc()
	if result == ResultAccepted {
		m.PredictionStake.Observe(float64(points))
	}
}

// RecordResolution counts a resolution and the points it moved.
func (m *EngineMetrics) RecordResolution(outcome string, paidOut, houseRetained int64) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.PayoutPoints.WithLabelValues("paid_out").Add(float64(max(paidOut, 0)))
	if houseRetained >= 0 {
		m.PayoutPoints.WithLabelValues("house_retained").Add(float64(houseRetained))
	} else {
		m.PayoutPoints.WithLabelValues("house_funded").Add(float64(-houseRetained))
	}
}

// ObserveCompute records how long an odds or analytics computation took.
func (m *EngineMetrics) ObserveCompute(kind string, started time.Time) {
	if m == nil {
		return
	}
	m.OddsLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// RecordCache counts an odds cache hit or miss.
func (m *EngineMetrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.OddsCacheTotal.WithLabelValues(result).Inc()
}

// RecordLeaderboard counts a leaderboard request.
func (m *EngineMetrics) RecordLeaderboard(timeframe string) {
	if m == nil {
		return
	}
	m.LeaderboardTotal.WithLabelValues(timeframe).Inc()
}

// RecordSnapshots counts recorded snapshots.
func (m *EngineMetrics) RecordSnapshots(n int) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.Add(float64(n))
}

// ObserveHTTP records one served HTTP request.
func (m *EngineMetrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}
