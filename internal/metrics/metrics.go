package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainstream"

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	connectionState   prometheus.Gauge
	reconnectAttempts prometheus.Counter
	connectFailures   prometheus.Counter
	requests          *prometheus.CounterVec
	notifications     prometheus.Counter
	handlerErrors     prometheus.Counter
	activeSubs        prometheus.Gauge
	queueOverflows    *prometheus.CounterVec
	policyRejections  *prometheus.CounterVec
	gaps              prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=disconnecting)",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connect_failures_total",
			Help:      "Total number of failed connection attempts",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of requests by method and outcome",
		}, []string{"method", "outcome"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "notifications_total",
			Help:      "Total number of notifications routed to a subscription",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "handler_errors_total",
			Help:      "Total number of notification handler failures",
		}),
		activeSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Number of active subscriptions",
		}),
		queueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "queue_overflows_total",
			Help:      "Total number of queue overflows by strategy",
		}, []string{"strategy"}),
		policyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "policy_rejections_total",
			Help:      "Total number of subscribe calls rejected by policy",
		}, []string{"reason"}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "gaps_total",
			Help:      "Total number of gap records produced after reconnection",
		}),
	}

	collectors := []prometheus.Collector{
		m.connectionState,
		m.reconnectAttempts,
		m.connectFailures,
		m.requests,
		m.notifications,
		m.handlerErrors,
		m.activeSubs,
		m.queueOverflows,
		m.policyRejections,
		m.gaps,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SetConnectionState records the numeric connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// ReconnectScheduled counts a scheduled reconnection attempt.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// ConnectFailed counts a failed connection attempt.
func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// Request counts a finished request.
func (m *Metrics) Request(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

// Notification counts a routed notification.
func (m *Metrics) Notification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// HandlerError counts a handler failure.
func (m *Metrics) HandlerError() {
	if m == nil {
		return
	}
	m.handlerErrors.Inc()
}

// SetActiveSubscriptions records the active subscription count.
func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubs.Set(float64(n))
}

// QueueOverflow counts an overflow handled by strategy.
func (m *Metrics) QueueOverflow(strategy string) {
	if m == nil {
		return
	}
	m.queueOverflows.WithLabelValues(strategy).Inc()
}

// PolicyRejection counts a subscribe rejected before reaching the network.
func (m *Metrics) PolicyRejection(reason string) {
	if m == nil {
		return
	}
	m.policyRejections.WithLabelValues(reason).Inc()
}

// Gap counts a produced gap record.
func (m *Metrics) Gap() {
	if m == nil {
		return
	}
	m.gaps.Inc()
}
