// Package conn manages the lifecycle of a single MQTT broker connection:
// connect, presence announcements, status subscription, disconnection
// detection, and interval-based reconnection.
package conn

// State represents the current state of the broker connection
type State string

const (
	// StateDisconnected indicates no connection and no pending attempt
	StateDisconnected State = "disconnected"
	// StateConnecting indicates a connection attempt is in flight
	StateConnecting State = "connecting"
	// StateConnected indicates an established connection
	StateConnected State = "connected"
	// StateConnectionLost indicates an unsolicited connection loss;
	// the reconnection poller is (or is about to be) running
	StateConnectionLost State = "connection_lost"
)

// Listener receives broker events forwarded by the Manager. Fields are
// plain function values; nil fields are skipped. Callbacks run on the
// manager's worker goroutines and must not block for long.
type Listener struct {
	OnConnectSuccess   func()
	OnConnectFailure   func(cause error)
	OnConnectionLost   func(cause error)
	OnMessageArrived   func(topic, payload string)
	OnMessageDelivered func(topic, payload string)
	OnSubscribeSuccess func(topic string)
	OnSubscribeFailure func(topic string, cause error)
}
