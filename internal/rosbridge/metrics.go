package rosbridge

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики клиента. Все методы безопасны на nil.
type Metrics struct {
	envelopesSent     *prometheus.CounterVec
	envelopesReceived *prometheus.CounterVec
	responsesDropped  *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	queuedSends       prometheus.Gauge
	pendingCalls      prometheus.Gauge
	connectedGauge    prometheus.Gauge
	connectFailures   prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		envelopesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "envelopes_sent_total",
			Help:      "Envelopes written to the transport.",
		}, []string{"op"}),
		envelopesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "envelopes_received_total",
			Help:      "Envelopes decoded from the transport.",
		}, []string{"op"}),
		responsesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "responses_dropped_total",
			Help:      "service_response envelopes that reached no callback.",
		}, []string{"reason"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Round trip of call_service until service_response.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"service", "result"}),
		queuedSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "queued_sends",
			Help:      "Envelopes waiting for the connection to open.",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Service calls waiting for a response.",
		}),
		connectedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "connected",
			Help:      "1 while the transport is open.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rosbridge",
			Subsystem: "client",
			Name:      "connect_failures_total",
			Help:      "Failed transport dials.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.envelopesSent,
			m.envelopesReceived,
			m.responsesDropped,
			m.callDuration,
			m.queuedSends,
			m.pendingCalls,
			m.connectedGauge,
			m.connectFailures,
		)
	}
	return m
}

func (m *Metrics) sent(op Op) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) received(op Op) {
	if m == nil {
		return
	}
	m.envelopesReceived.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) responseDropped(reason string) {
	if m == nil {
		return
	}
	m.responsesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) callFinished(service string, result bool, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(service, strconv.FormatBool(result)).Observe(d.Seconds())
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queuedSends.Set(float64(n))
}

func (m *Metrics) setPendingCalls(n int) {
	if m == nil {
		return
	}
	m.pendingCalls.Set(float64(n))
}

func (m *Metrics) connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectedGauge.Set(1)
		return
	}
	m.connectedGauge.Set(0)
}

func (m *Metrics) connectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}
