package conn

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-presence-agent/config"
	"mqtt-presence-agent/internal/logger"
)

// mockToken implements mqtt.Token for testing
type mockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error) *mockToken {
	done := make(chan struct{})
	close(done)
	return &mockToken{err: err, done: done}
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { return t.done }
func (t *mockToken) Error() error                   { return t.err }

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type subscribeRecord struct {
	topic    string
	qos      byte
	callback mqtt.MessageHandler
}

// mockClient implements mqtt.Client for testing. Connect pops errors from
// connectErrs in order; an exhausted queue means success.
type mockClient struct {
	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connectDelay time.Duration
	connectCalls int
	publishes    []publishRecord
	subscribes   []subscribeRecord
	unsubscribes []string
}

func (m *mockClient) Connect() mqtt.Token {
	m.mu.Lock()
	delay := m.connectDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return newMockToken(err)
		}
	}
	m.connected = true
	return newMockToken(nil)
}

func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, _ := payload.([]byte)
	m.publishes = append(m.publishes, publishRecord{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  string(body),
	})
	return newMockToken(nil)
}

func (m *mockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes = append(m.subscribes, subscribeRecord{topic: topic, qos: qos, callback: callback})
	return newMockToken(nil)
}

func (m *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newMockToken(nil)
}

func (m *mockClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes = append(m.unsubscribes, topics...)
	return newMockToken(nil)
}

func (m *mockClient) AddRoute(string, mqtt.MessageHandler)    {}
func (m *mockClient) IsConnectionOpen() bool                  { return m.isConnected() }
func (m *mockClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }
func (m *mockClient) IsConnected() bool                       { return m.isConnected() }

func (m *mockClient) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) setConnectErrs(errs ...error) {
	m.mu.Lock()
	m.connectErrs = append([]error{}, errs...)
	m.mu.Unlock()
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

func (m *mockClient) published() []publishRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishRecord, len(m.publishes))
	copy(out, m.publishes)
	return out
}

func (m *mockClient) subscribed() []subscribeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]subscribeRecord, len(m.subscribes))
	copy(out, m.subscribes)
	return out
}

// mockMessage implements mqtt.Message for testing
type mockMessage struct {
	topic   string
	payload string
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return []byte(m.payload) }
func (m *mockMessage) Ack()              {}

// eventRecorder collects listener callbacks on buffered channels
type eventRecorder struct {
	connectSuccess   chan struct{}
	connectFailure   chan error
	connectionLost   chan error
	messageArrived   chan [2]string
	messageDelivered chan [2]string
	subscribeSuccess chan string
	subscribeFailure chan string
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		connectSuccess:   make(chan struct{}, 32),
		connectFailure:   make(chan error, 32),
		connectionLost:   make(chan error, 32),
		messageArrived:   make(chan [2]string, 32),
		messageDelivered: make(chan [2]string, 32),
		subscribeSuccess: make(chan string, 32),
		subscribeFailure: make(chan string, 32),
	}
}

func (e *eventRecorder) listener() Listener {
	return Listener{
		OnConnectSuccess: func() { e.connectSuccess <- struct{}{} },
		OnConnectFailure: func(cause error) { e.connectFailure <- cause },
		OnConnectionLost: func(cause error) { e.connectionLost <- cause },
		OnMessageArrived: func(topic, payload string) {
			e.messageArrived <- [2]string{topic, payload}
		},
		OnMessageDelivered: func(topic, payload string) {
			e.messageDelivered <- [2]string{topic, payload}
		},
		OnSubscribeSuccess: func(topic string) { e.subscribeSuccess <- topic },
		OnSubscribeFailure: func(topic string, cause error) { e.subscribeFailure <- topic },
	}
}

func testLogger() *logger.Logger {
	log, err := logger.NewLogger(&config.LogConfig{
		Level:       "error",
		Encoding:    "console",
		LogToStdout: true,
	})
	if err != nil {
		panic(err)
	}
	return log
}

func testMQTTConfig() *config.MQTTConfig {
	return &config.MQTTConfig{
		Broker:            "tcp://broker:1883",
		ClientID:          "dev-1",
		KeepAlive:         60,
		ConnectTimeout:    30,
		QoS:               1,
		CleanSession:      true,
		AutoReconnect:     true,
		ReconnectInterval: "20ms",
		WillTopic:         "dev-1/status",
		StatusTopic:       "dev-1/status",
		Announce: config.AnnounceConfig{
			Online:    "online",
			Offline:   "offline",
			Reconnect: "reconnect",
		},
	}
}

// harness wires a Manager to a mock client and captures the client
// options so tests can fire the connection-lost handler.
type harness struct {
	manager *Manager
	client  *mockClient
	opts    *mqtt.ClientOptions
	events  *eventRecorder
}

func newHarness(cfg *config.MQTTConfig) (*harness, error) {
	h := &harness{
		client: &mockClient{},
		events: newEventRecorder(),
	}
	h.manager = New(testLogger(), nil)
	h.manager.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		h.opts = opts
		return h.client
	}
	if err := h.manager.Init(cfg, h.events.listener()); err != nil {
		return nil, err
	}
	return h, nil
}

// loseConnection fires the connection-lost handler the manager registered
// with the underlying client.
func (h *harness) loseConnection(cause error) {
	h.opts.OnConnectionLost(h.client, cause)
}
