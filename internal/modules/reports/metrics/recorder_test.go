package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/shared/secrets"
)

func TestPromRecorderCounts(t *testing.T) {
	r := NewPromRecorder("", "mis_reports")

	r.ReportWritten("transactions", "mis-transactions", 450, 3)
	r.ReportWritten("transactions", "mis-transactions", 50, 1)
	r.ReportDelivered("transactions", "mis-transactions")
	r.RunFinished("transactions", OutcomeSuccess, 2*time.Second)
	r.RunFinished("transactions", OutcomeFailure, time.Second)

	assert.Equal(t, 500.0, testutil.ToFloat64(r.rows.WithLabelValues("transactions", "mis-transactions")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.chunks.WithLabelValues("transactions", "mis-transactions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.delivered.WithLabelValues("transactions", "mis-transactions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("transactions", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("transactions", OutcomeFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestPromRecorderTracksSecretCache(t *testing.T) {
	r := NewPromRecorder("", "mis_reports")
	snapshot := secrets.CacheMetrics{Hits: 3, Misses: 1, TotalReads: 4}
	require.NoError(t, r.TrackSecretCache(func() secrets.CacheMetrics { return snapshot }))

	expected := `
# HELP mis_reports_secret_cache_hits_total Credential lookups served from cache.
# TYPE mis_reports_secret_cache_hits_total counter
mis_reports_secret_cache_hits_total 3
# HELP mis_reports_secret_cache_misses_total Credential lookups that went to Secrets Manager.
# TYPE mis_reports_secret_cache_misses_total counter
mis_reports_secret_cache_misses_total 1
# HELP mis_reports_secret_cache_hit_rate_percent Share of credential lookups served from cache.
# TYPE mis_reports_secret_cache_hit_rate_percent gauge
mis_reports_secret_cache_hit_rate_percent 75
`
	assert.NoError(t, testutil.GatherAndCompare(r.registry, strings.NewReader(expected),
		"mis_reports_secret_cache_hits_total",
		"mis_reports_secret_cache_misses_total",
		"mis_reports_secret_cache_hit_rate_percent",
	))

	// Values are read at gather time.
	snapshot.Evictions = 2
	assert.NoError(t, testutil.GatherAndCompare(r.registry, strings.NewReader(`
# HELP mis_reports_secret_cache_evictions_total Credential bundles evicted before expiry.
# TYPE mis_reports_secret_cache_evictions_total counter
mis_reports_secret_cache_evictions_total 2
`), "mis_reports_secret_cache_evictions_total"))

	assert.Error(t, r.TrackSecretCache(func() secrets.CacheMetrics { return snapshot }))
}

func TestPromRecorderFlushWithoutGateway(t *testing.T) {
	assert.NoError(t, NewPromRecorder("", "mis_reports").Flush(context.Background()))
}

func TestPromRecorderFlushPushesToGateway(t *testing.T) {
	var method, path string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method, path = req.Method, req.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	r := NewPromRecorder(gateway.URL, "mis_reports")
	r.RunFinished("transactions", OutcomeSuccess, time.Second)

	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/mis_reports", path)
}

func TestPromRecorderFlushGatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer gateway.Close()

	r := NewPromRecorder(gateway.URL, "mis_reports")
	assert.ErrorContains(t, r.Flush(context.Background()), "push metrics")
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.ReportWritten("v", "r", 1, 1)
	r.ReportDelivered("v", "r")
	r.RunFinished("v", OutcomeSuccess, time.Second)
	assert.NoError(t, r.Flush(context.Background()))
}
