package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthStatusAggregation(t *testing.T) {
	RegisterComponent("roster", true, "")
	RegisterComponent("accesslog", true, "")
	RegisterComponent("scheduler", true, "")

	status := Status()
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Components["roster"])

	RegisterComponent("roster", false, "token refresh failed")
	status = Status()
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "token refresh failed", status.Components["roster"])

	RegisterComponent("accesslog", false, "unreachable")
	RegisterComponent("scheduler", false, "stopped")
	status = Status()
	assert.Equal(t, "unhealthy", status.Status)

	// Restore for other tests
	RegisterComponent("roster", true, "")
	RegisterComponent("accesslog", true, "")
	RegisterComponent("scheduler", true, "")
}

func TestHealthHandler(t *testing.T) {
	RegisterComponent("roster", true, "")

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.NotEmpty(t, status.Uptime)
}

func TestTimerObservesDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_seconds",
		Help: "test",
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(h)

	// One observation of at least the slept duration
	var pb dto.Metric
	require.NoError(t, h.Write(&pb))
	assert.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
	assert.GreaterOrEqual(t, pb.GetHistogram().GetSampleSum(), 0.005)
}
