package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordPrediction(ResultAccepted, 100)
	m.RecordPrediction(ResultRejected, 0)
	m.RecordResolution("resolved", 155, -5)
	m.RecordCache(true)
	m.RecordLeaderboard("weekly")
	m.RecordSnapshots(3)
	m.ObserveCompute("odds", time.Now())
	m.ObserveHTTP(http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `pollmarket_predictions_total{result="accepted"} 1`)
	assert.Contains(t, body, `pollmarket_payout_points_total{kind="house_funded"} 5`)
	assert.Contains(t, body, `pollmarket_snapshots_total 3`)
	assert.Contains(t, body, `pollmarket_leaderboard_requests_total{timeframe="weekly"} 1`)
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RecordPrediction(ResultAccepted, 10)
		m.RecordResolution("resolved", 1, 1)
		m.RecordCache(false)
		m.RecordLeaderboard("all")
		m.RecordSnapshots(1)
		m.ObserveCompute("odds", time.Now())
		m.ObserveHTTP(http.MethodGet, 200, time.Second)
	})
}
