package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_realtime_messages_total",
			Help: "Realtime messages received by type",
		},
		[]string{"type"},
	)

	messagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_realtime_messages_dropped_total",
			Help: "Realtime messages dropped before dispatch",
		},
		[]string{"reason"},
	)

	reconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_realtime_reconnect_attempts_total",
			Help: "Scheduled reconnect attempts",
		},
	)

	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_realtime_connection_state",
			Help: "Current link state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
		},
	)
)

var knownTypes = map[string]bool{
	TypeConnectionEstablished: true,
	TypeEventCreated:          true,
	TypeEventUpdated:          true,
	TypeEventVerified:         true,
	TypeSystemAlert:           true,
	TypePong:                  true,
	TypeSubscribed:            true,
	TypeError:                 true,
}

// typeLabel bounds the label cardinality to the known message types.
func typeLabel(t string) string {
	if knownTypes[t] {
		return t
	}
	return "unknown"
}
