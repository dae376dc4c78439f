package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObserver(reg)
	m := obs.(*requestMetrics)

	obs.Request("GET")
	obs.Request("GET")
	obs.Request("POST")
	obs.CacheHit(false)
	obs.CacheHit(true)
	obs.NetworkRequest("api.example.test", 503, 120*time.Millisecond)
	obs.NetworkRequest("api.example.test", 200, 80*time.Millisecond)
	obs.Failure("NETWORK_ERROR")
	obs.Queued()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("api.example.test", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("NETWORK_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queued))
	assert.Equal(t, 1, testutil.CollectAndCount(m.attemptLatency))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewObserver(reg).Queued()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_offline_queued_total 1")
}
