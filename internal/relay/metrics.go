package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	UIConnections      *prometheus.CounterVec
	ContentConnections prometheus.Counter
	Handshakes         prometheus.Counter
	Reloads            *prometheus.CounterVec
	ContentMessages    *prometheus.CounterVec
	Deactivations      prometheus.Counter
	RegisteredTabs     prometheus.Gauge
	SendFailures       prometheus.Counter
}

// NewMetrics registers the relay instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UIConnections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "ui_connections_total",
			Help: "UI channel connection attempts by outcome.",
		}, []string{"outcome"}),
		ContentConnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "content_connections_total",
			Help: "Content channels attached.",
		}),
		Handshakes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "handshakes_total",
			Help: "init handshakes processed.",
		}),
		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "reloads_total",
			Help: "Forced tab reloads by result.",
		}, []string{"result"}),
		ContentMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "content_messages_total",
			Help: "Content messages by ack status.",
		}, []string{"status"}),
		Deactivations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "deactivations_total",
			Help: "deactivate messages delivered to content channels.",
		}),
		RegisteredTabs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "registered_tabs",
			Help: "Tabs with a registered UI channel.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "perfdash", Subsystem: "relay", Name: "send_failures_total",
			Help: "Forwarding sends that failed and dropped the UI channel.",
		}),
	}
}

func (m *Metrics) uiConnect(accepted bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.UIConnections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) contentAttached() {
	if m != nil {
		m.ContentConnections.Inc()
	}
}

func (m *Metrics) handshake() {
	if m != nil {
		m.Handshakes.Inc()
	}
}

func (m *Metrics) reload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) contentMessage(status string) {
	if m != nil {
		m.ContentMessages.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) deactivated() {
	if m != nil {
		m.Deactivations.Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) tabs(n int) {
	if m != nil {
		m.RegisteredTabs.Set(float64(n))
	}
}
