package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors served on /api/v1/metrics.
// Each instance owns its registry so several servers can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	ingest       *prometheus.CounterVec
	keyOps       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ingest: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_ingest_total",
				Help: "Telemetry submissions by result.",
			},
			[]string{"result"},
		),
		keyOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_key_operations_total",
				Help: "API key issue, revoke and refresh attempts by result.",
			},
			[]string{"operation", "result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.ingest,
		m.keyOps,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) observeIngest(err error) {
	m.ingest.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeKeyOp(operation string, err error) {
	m.keyOps.WithLabelValues(operation, resultLabel(err)).Inc()
}

// observeHub exports the live WebSocket client count. A Metrics shared by
// a second server keeps the first hub's gauge.
func (m *Metrics) observeHub(h *Hub) {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket clients.",
		},
		func() float64 { return float64(h.ClientCount()) },
	)
	var already prometheus.AlreadyRegisteredError
	if err := m.registry.Register(gauge); err != nil && !errors.As(err, &already) {
		panic(err)
	}
}

// resultLabel reduces an error to a low-cardinality label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	_, code, _ := classifyError(err)
	return code
}
