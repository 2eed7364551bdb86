package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics instruments the sampling write path. A nil *Metrics is a no-op.
type Metrics struct {
	gatherer      prometheus.Gatherer
	samplesTotal  *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	storeWrites   *prometheus.CounterVec
	lastSample    *prometheus.GaugeVec
}

// New registers the collectors on reg and serves them from Handler.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plugmeter_samples_total",
			Help: "Sampling attempts by outcome.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plugmeter_fetch_duration_seconds",
			Help:    "Duration of telemetry status fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plugmeter_store_writes_total",
			Help: "Reading store writes by outcome.",
		}, []string{"result"}),
		lastSample: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plugmeter_last_sample_timestamp_seconds",
			Help: "Unix time of the last stored reading per device.",
		}, []string{"device_id"}),
	}

	reg.MustRegister(m.samplesTotal, m.fetchDuration, m.storeWrites, m.lastSample)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Push replaces the job's metric group on the Pushgateway at url with the
// current registry contents. A nil *Metrics pushes nothing.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	return push.New(url, job).Gatherer(m.gatherer).PushContext(ctx)
}

// Sample counts one sampling outcome ("ok" or a failure kind).
func (m *Metrics) Sample(result string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(result).Inc()
}

// Fetch observes the duration of one upstream fetch.
func (m *Metrics) Fetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// StoreWrite counts one store write.
func (m *Metrics) StoreWrite(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.storeWrites.WithLabelValues(result).Inc()
}

// Stored records the timestamp of the latest reading written for a device.
func (m *Metrics) Stored(deviceID string, at time.Time) {
	if m == nil {
		return
	}
	m.lastSample.WithLabelValues(deviceID).Set(float64(at.Unix()))
}
