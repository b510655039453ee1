package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, metrics *MetricsService) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsServiceDomainCounters(t *testing.T) {
	metrics := NewMetricsService()

	metrics.RecordTransition("outpass", "escalate")
	metrics.RecordTransition("outpass", "escalate")
	metrics.RecordIngestionRow("students", false)
	metrics.RecordNotification("request_created", true)
	metrics.SetStalePending(4)

	body := scrape(t, metrics)
	assert.Contains(t, body, `leave_transitions_total{action="escalate",kind="outpass"} 2`)
	assert.Contains(t, body, `ingestion_rows_total{result="failed",target="students"} 1`)
	assert.Contains(t, body, `notifications_total{result="sent",template="request_created"} 1`)
	assert.Contains(t, body, "leave_stale_pending 4")
}

func TestMetricsServiceCacheRatio(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(false, time.Millisecond)

	assert.Contains(t, scrape(t, metrics), "cache_hit_ratio 0.5")
}

func TestMetricsServiceHTTPRequests(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	assert.Contains(t, scrape(t, metrics), `http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordTransition("outing", "approve")
	metrics.SetStalePending(1)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
