package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relaydesk"

// Metrics groups the collectors of the realtime core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	reconnects        prometheus.Counter
	subscribers       prometheus.Gauge
	events            *prometheus.CounterVec
	handlerPanics     *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Stream connections opened by the connection manager.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Stream connections torn down by the connection manager.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful handshakes after the first one of a connection.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscribers on the current connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound events routed to subscribers.",
		}, []string{"event"}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Subscriber handlers that panicked during dispatch.",
		}, []string{"event"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Debounced re-fetches by debouncer and result.",
		}, []string{"debouncer", "result"}),
	}

	reg.MustRegister(
		m.connectionsOpened,
		m.connectionsClosed,
		m.reconnects,
		m.subscribers,
		m.events,
		m.handlerPanics,
		m.refreshes,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsOpened.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsClosed.Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

func (m *Metrics) EventDispatched(event string) {
	if m != nil {
		m.events.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) HandlerPanicked(event string) {
	if m != nil {
		m.handlerPanics.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Refreshed(debouncer string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(debouncer, result).Inc()
}
