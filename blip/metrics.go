package blip

import "github.com/prometheus/client_golang/prometheus"

// connMetrics holds the Prometheus collectors a Connection reports to.
// Every Connection in a process shares the same collectors (labelled by
// connection id) rather than registering its own per-instance metrics, the
// way a long-lived server process typically wants one /metrics endpoint
// covering every connection it has ever handled.
type connMetrics struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	messagesComplete *prometheus.CounterVec
	bytesInFlight    *prometheus.GaugeVec
	ackWindowStalls  *prometheus.CounterVec
}

// defaultMetrics is registered against the default registerer when the
// package is initialized, and every Connection reports to it unless an
// Option overrides it: NewConnection(transport, WithMetrics(nil)) disables
// reporting for that connection.
var defaultMetrics = newConnMetrics(prometheus.DefaultRegisterer)

func newConnMetrics(reg prometheus.Registerer) *connMetrics {
	m := &connMetrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blip",
			Name:      "frames_sent_total",
			Help:      "Frames written to the transport, by connection id.",
		}, []string{"connection"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blip",
			Name:      "frames_received_total",
			Help:      "Frames read from the transport, by connection id.",
		}, []string{"connection"}),
		messagesComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blip",
			Name:      "messages_completed_total",
			Help:      "Messages fully reassembled or fully sent, by connection id and direction.",
		}, []string{"connection", "direction"}),
		bytesInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blip",
			Name:      "bytes_in_flight",
			Help:      "Unacknowledged outgoing frame bytes, by connection id.",
		}, []string{"connection"}),
		ackWindowStalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blip",
			Name:      "ack_window_stalls_total",
			Help:      "Times the scheduler skipped a message because its flow-control window was full.",
		}, []string{"connection"}),
	}
	if reg != nil {
		reg.MustRegister(m.framesSent, m.framesReceived, m.messagesComplete, m.bytesInFlight, m.ackWindowStalls)
	}
	return m
}
