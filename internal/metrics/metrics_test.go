package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Sample("ok")
	m.Sample("ok")
	m.Sample("upstream_unavailable")
	m.StoreWrite(true)
	m.StoreWrite(false)
	m.Fetch(120 * time.Millisecond)
	m.Stored("bf01", time.Unix(1718000000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.samplesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samplesTotal.WithLabelValues("upstream_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeWrites.WithLabelValues("error")))
	assert.Equal(t, 1718000000.0, testutil.ToFloat64(m.lastSample.WithLabelValues("bf01")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Sample("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `plugmeter_samples_total{result="ok"} 1`))
}

func TestPushReplacesJobGroup(t *testing.T) {
	var method, path, body string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New(prometheus.NewRegistry())
	m.Sample("ok")
	require.NoError(t, m.Push(context.Background(), gw.URL, "plugmeter_watcher"))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/plugmeter_watcher", path)
	assert.NotEmpty(t, body)
}

func TestPushReportsGatewayErrors(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer gw.Close()

	m := New(prometheus.NewRegistry())
	assert.Error(t, m.Push(context.Background(), gw.URL, "plugmeter_watcher"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Sample("ok")
		m.Fetch(time.Second)
		m.StoreWrite(true)
		m.Stored("x", time.Now())
		assert.NoError(t, m.Push(context.Background(), "http://127.0.0.1:1", "job"))
	})
}
