// Package metrics holds the service's Prometheus collectors. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livescore"

type Metrics struct {
	registry *prometheus.Registry

	updatesTotal    *prometheus.CounterVec
	updateErrors    prometheus.Counter
	staleRejected   prometheus.Counter
	streamState     prometheus.Gauge
	reconnects      prometheus.Counter
	streamErrors    prometheus.Counter
	fanoutWrites    *prometheus.CounterVec
	coalesced       prometheus.Counter
	activeSessions  prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Reconciled updates by resulting transition",
		}, []string{"transition"}),
		updateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_errors_total",
			Help:      "Updates dropped because they could not be converted",
		}),
		staleRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_updates_total",
			Help:      "Updates rejected because they would regress a fixture's phase",
		}),
		streamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Stream supervisor state (0 idle, 1 connecting, 2 streaming, 3 reconnecting, 4 stopped)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Number of scheduled stream reconnects",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Number of subscription failures",
		}),
		fanoutWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_writes_total",
			Help:      "Fan-out persistence writes by sink and result",
		}, []string{"sink", "result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_coalesced_total",
			Help:      "Pending fan-out jobs replaced by a newer job for the same fixture",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Currently active live sessions",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total admin HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of admin HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Number of admin HTTP requests rejected due to rate limiting",
		}),
	}

	registry.MustRegister(
		m.updatesTotal,
		m.updateErrors,
		m.staleRejected,
		m.streamState,
		m.reconnects,
		m.streamErrors,
		m.fanoutWrites,
		m.coalesced,
		m.activeSessions,
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveUpdate(transition string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(transition).Inc()
}

func (m *Metrics) IncUpdateErrors() {
	if m == nil {
		return
	}
	m.updateErrors.Inc()
}

func (m *Metrics) IncStale() {
	if m == nil {
		return
	}
	m.staleRejected.Inc()
}

func (m *Metrics) SetStreamState(state int) {
	if m == nil {
		return
	}
	m.streamState.Set(float64(state))
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) IncStreamErrors() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

// ObserveWrite counts one fan-out write to sink. A nil err counts as "ok".
func (m *Metrics) ObserveWrite(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fanoutWrites.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
