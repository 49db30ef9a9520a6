// Package telemetry exposes the Prometheus metrics of a Nebula node.
//
// Every node owns its own registry, so several nodes can run in one process.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nebula"

// Label values.
const (
	RoleInitiator = "initiator"
	RoleAcceptor  = "acceptor"
	RoleFlood     = "flood"

	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics groups the collectors of one node.
type Metrics struct {
	Registry *prometheus.Registry

	// Peers is the number of peer table entries, by direction.
	Peers *prometheus.GaugeVec

	// Joins counts join exchanges, by role and result.
	Joins *prometheus.CounterVec

	// Faults counts links removed because the transport reported them lost.
	Faults prometheus.Counter

	// FloodFailures counts flood-connect targets that could not be joined.
	FloodFailures prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	buildInfo *prometheus.GaugeVec
}

// NewMetrics creates and registers a fresh set of collectors.
func NewMetrics() *Metrics {
	startTime := time.Now()

	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Peers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peers",
				Help:      "Current number of peer links.",
			},
			[]string{"direction"},
		),

		Joins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "joins_total",
				Help:      "Join exchanges by role and result.",
			},
			[]string{"role", "result"},
		),

		Faults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Peer links lost to transport faults.",
			},
		),

		FloodFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flood_failures_total",
				Help:      "Flood-connect targets that could not be joined.",
			},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"op", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
			},
			[]string{"op"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build info (constant 1, labeled by version).",
			},
			[]string{"version"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Node uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	m.Registry.MustRegister(
		m.Peers,
		m.Joins,
		m.Faults,
		m.FloodFailures,
		m.RequestsTotal,
		m.RequestDuration,
		m.buildInfo,
		uptime,
	)

	return m
}

// SetBuildInfo should be called once at startup.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record request metrics under the
// provided "op" label.
func (m *Metrics) Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		m.RequestsTotal.WithLabelValues(op, class).Inc()
		m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
