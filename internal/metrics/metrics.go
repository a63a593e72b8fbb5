// Package metrics holds the Prometheus collectors for taskbell.
//
// Collectors live on a private registry so tests and multiple app instances
// never collide on the default registerer. All methods are nil-safe.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection states exported by taskbell_connection_state.
const (
	StateDisconnected = 0
	StateConnecting   = 1
	StateOpen         = 2
)

type Metrics struct {
	reg *prometheus.Registry

	NoticesTotal      *prometheus.CounterVec
	PayloadsDropped   *prometheus.CounterVec
	Unread            *prometheus.GaugeVec
	AlertsActive      prometheus.Gauge
	ClearRequests     *prometheus.CounterVec
	ClearDuration     prometheus.Histogram
	SearchRequests    *prometheus.CounterVec
	SearchDuration    prometheus.Histogram
	ConnectionState   prometheus.Gauge
	ConnectionAttempt prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		NoticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskbell_notices_total",
				Help: "Notifications routed by channel",
			},
			[]string{"channel"},
		),
		PayloadsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskbell_payloads_dropped_total",
				Help: "Inbound payloads dropped by reason",
			},
			[]string{"reason"},
		),
		Unread: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskbell_unread",
				Help: "Unread notifications by channel",
			},
			[]string{"channel"},
		),
		AlertsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskbell_alerts_active",
				Help: "Transient alerts currently displayed",
			},
		),
		ClearRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskbell_clear_requests_total",
				Help: "Channel clear requests by channel and result",
			},
			[]string{"channel", "result"},
		),
		ClearDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskbell_clear_request_duration_seconds",
				Help:    "Channel clear round-trip time in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SearchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskbell_search_requests_total",
				Help: "Search requests by result",
			},
			[]string{"result"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskbell_search_request_duration_seconds",
				Help:    "Search round-trip time in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskbell_connection_state",
				Help: "Push connection state (0 = disconnected, 1 = connecting, 2 = open)",
			},
		),
		ConnectionAttempt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskbell_connection_attempts_total",
				Help: "Push connection dial attempts",
			},
		),
	}
	m.reg.MustRegister(
		m.NoticesTotal,
		m.PayloadsDropped,
		m.Unread,
		m.AlertsActive,
		m.ClearRequests,
		m.ClearDuration,
		m.SearchRequests,
		m.SearchDuration,
		m.ConnectionState,
		m.ConnectionAttempt,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) NoticeRouted(channel string, unread int) {
	if m == nil {
		return
	}
	m.NoticesTotal.WithLabelValues(channel).Inc()
	m.Unread.WithLabelValues(channel).Set(float64(unread))
}

func (m *Metrics) SetUnread(channel string, unread int) {
	if m == nil {
		return
	}
	m.Unread.WithLabelValues(channel).Set(float64(unread))
}

func (m *Metrics) PayloadDropped(reason string) {
	if m == nil {
		return
	}
	m.PayloadsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetAlertsActive(n int) {
	if m == nil {
		return
	}
	m.AlertsActive.Set(float64(n))
}

func (m *Metrics) ClearDone(channel, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ClearRequests.WithLabelValues(channel, result).Inc()
	if took > 0 {
		m.ClearDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) SearchDone(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(result).Inc()
	if took > 0 {
		m.SearchDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	if state == StateConnecting {
		m.ConnectionAttempt.Inc()
	}
	m.ConnectionState.Set(float64(state))
}
