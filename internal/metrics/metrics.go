package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	cyclesTotal         *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	devices             *prometheus.GaugeVec
	devicesPruned       prometheus.Counter
	lastSuccess         prometheus.Gauge
	updateInterval      prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP, refresh cycle and registry
// metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by gatewatch",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewatch",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by gatewatch",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	cyclesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Name:      "refresh_cycles_total",
		Help:      "Refresh cycles by outcome and failure kind",
	}, []string{"outcome", "kind"})

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatewatch",
		Name:      "refresh_cycle_duration_seconds",
		Help:      "Duration of refresh cycles from login to publish",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	devices := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gatewatch",
		Name:      "devices",
		Help:      "Devices in the registry by state",
	}, []string{"state"})

	devicesPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Name:      "devices_pruned_total",
		Help:      "Inactive devices removed after the retention window",
	})

	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewatch",
		Name:      "last_successful_refresh_timestamp_seconds",
		Help:      "Unix time of the last successful refresh cycle",
	})

	updateInterval := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewatch",
		Name:      "update_interval_seconds",
		Help:      "Currently effective refresh interval",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		cyclesTotal,
		cycleDuration,
		devices,
		devicesPruned,
		lastSuccess,
		updateInterval,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		cyclesTotal:         cyclesTotal,
		cycleDuration:       cycleDuration,
		devices:             devices,
		devicesPruned:       devicesPruned,
		lastSuccess:         lastSuccess,
		updateInterval:      updateInterval,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveCycle records one finished refresh cycle. kind is empty on success.
func (m *Metrics) ObserveCycle(outcome, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.cyclesTotal.With(prometheus.Labels{"outcome": outcome, "kind": kind}).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// SetDevices publishes registry sizes and marks the refresh as successful.
func (m *Metrics) SetDevices(active, inactive int, at time.Time) {
	if m == nil {
		return
	}
	m.devices.With(prometheus.Labels{"state": "active"}).Set(float64(active))
	m.devices.With(prometheus.Labels{"state": "inactive"}).Set(float64(inactive))
	m.lastSuccess.Set(float64(at.Unix()))
}

func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.devicesPruned.Add(float64(n))
}

func (m *Metrics) SetUpdateInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.updateInterval.Set(d.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
