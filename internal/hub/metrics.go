package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	subscribers prometheus.Gauge
	framesIn    prometheus.Counter
	framesOut   prometheus.Counter
	slowDropped prometheus.Counter
}

// NewMetrics creates the hub collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backplane", Subsystem: "hub", Name: "subscribers",
			Help: "Currently connected peers",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backplane", Subsystem: "hub", Name: "frames_received_total",
			Help: "Frames received from peers",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backplane", Subsystem: "hub", Name: "frames_delivered_total",
			Help: "Frames queued for delivery to peers",
		}),
		slowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backplane", Subsystem: "hub", Name: "slow_subscribers_dropped_total",
			Help: "Peers disconnected because their send buffer was full",
		}),
	}
	reg.MustRegister(m.subscribers, m.framesIn, m.framesOut, m.slowDropped)
	return m
}

func (m *Metrics) setSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.framesIn.Inc()
	}
}

func (m *Metrics) frameDelivered() {
	if m != nil {
		m.framesOut.Inc()
	}
}

func (m *Metrics) slowSubscriberDropped() {
	if m != nil {
		m.slowDropped.Inc()
	}
}
