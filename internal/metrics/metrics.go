package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments exposed by the agent
type Metrics struct {
	connectionStatus  prometheus.Gauge
	reconnectsTotal   prometheus.Counter
	connectFailures   prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	subscribeFailures prometheus.Counter
}

// NewMetrics creates the agent metrics and registers them with reg.
// A nil registerer skips registration, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "Current MQTT connection status (1 = connected, 0 = disconnected)",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Total number of successful reconnections",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_connect_failures_total",
			Help: "Total number of failed connection attempts",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_total",
			Help: "Total number of MQTT messages by direction",
		}, []string{"direction"}),
		subscribeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_subscribe_failures_total",
			Help: "Total number of failed subscribe requests",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.connectionStatus,
			m.reconnectsTotal,
			m.connectFailures,
			m.messagesTotal,
			m.subscribeFailures,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// SetConnectionStatus records the current connection state
func (m *Metrics) SetConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// IncReconnects increments the successful reconnection counter
func (m *Metrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

// IncConnectFailures increments the failed connection attempt counter
func (m *Metrics) IncConnectFailures() {
	m.connectFailures.Inc()
}

// IncMessagesTotal increments the message counter for a direction
// ("published" or "received")
func (m *Metrics) IncMessagesTotal(direction string) {
	m.messagesTotal.WithLabelValues(direction).Inc()
}

// IncSubscribeFailures increments the failed subscribe counter
func (m *Metrics) IncSubscribeFailures() {
	m.subscribeFailures.Inc()
}
