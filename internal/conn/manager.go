package conn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-presence-agent/config"
	"mqtt-presence-agent/internal/logger"
	"mqtt-presence-agent/internal/metrics"
	"mqtt-presence-agent/internal/stats"
)

const (
	// The last will is published by the broker on unexpected disconnect;
	// it must survive, so it goes out at QoS 2 and retained.
	willQoS      = 2
	willRetained = true

	// defaultReconnectInterval is used when the config does not set one.
	defaultReconnectInterval = 5 * time.Second

	// publishTimeout bounds the wait for the graceful offline
	// announcement during Disconnect.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is the time in milliseconds given to the
	// underlying client to flush pending work on disconnect.
	disconnectQuiesce = 250
)

// Manager owns a single broker connection and drives all lifecycle
// transitions. It is safe for concurrent use; broker events arrive on
// the underlying client's goroutines and application calls may race
// with the reconnection poller.
type Manager struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.Collector

	mu                sync.Mutex
	initialized       bool
	state             State
	subscribed        bool
	cfg               *config.MQTTConfig
	listener          Listener
	client            mqtt.Client
	poller            *poller
	reconnectInterval time.Duration

	// attempting is the exclusive-attempt flag: at most one of
	// {application connect, poller reconnect} is in flight at a time.
	attempting atomic.Bool

	// wantReconnect distinguishes unsolicited connection loss from an
	// owner-initiated disconnect; the poller checks it before each attempt.
	wantReconnect atomic.Bool

	// newClient builds the underlying client; replaced in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// New creates a manager bound to a logger and optional metrics.
// No configuration is attached until Init.
func New(log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:    log,
		metrics:   m,
		stats:     stats.NewCollector(),
		state:     StateDisconnected,
		newClient: mqtt.NewClient,
	}
}

// Init validates the configuration, constructs the underlying client and
// registers the event-forwarding callbacks. No network I/O happens here.
func (m *Manager) Init(cfg *config.MQTTConfig, listener Listener) error {
	if err := validate(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	interval := defaultReconnectInterval
	if cfg.ReconnectInterval != "" {
		d, err := time.ParseDuration(cfg.ReconnectInterval)
		if err != nil {
			return fmt.Errorf("%w: reconnect interval: %v", ErrInvalidConfiguration, err)
		}
		interval = d
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Second).
		SetCleanSession(cfg.CleanSession).
		// The poller owns reconnection; the client must not race it.
		SetAutoReconnect(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.WillTopic != "" && cfg.Announce.Offline != "" {
		opts.SetWill(cfg.WillTopic, cfg.Announce.Offline, willQoS, willRetained)
	}

	opts.SetConnectionLostHandler(m.handleConnectionLost)
	opts.SetDefaultPublishHandler(m.handleMessage)

	m.client = m.newClient(opts)
	m.cfg = cfg
	m.listener = listener
	m.reconnectInterval = interval
	m.subscribed = false
	m.state = StateDisconnected
	m.initialized = true

	return nil
}

func validate(cfg *config.MQTTConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfiguration)
	}
	if cfg.Broker == "" {
		return fmt.Errorf("%w: broker address is required", ErrInvalidConfiguration)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidConfiguration)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return fmt.Errorf("%w: qos must be 0, 1, or 2", ErrInvalidConfiguration)
	}
	return nil
}

// Connect starts an asynchronous connection attempt. It is a no-op when
// already connected or when an attempt is in flight; success and failure
// are reported through the listener.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !m.attempting.CompareAndSwap(false, true) {
		m.logger.Debug("connect skipped, attempt already in flight")
		return nil
	}

	m.setState(StateConnecting)
	go m.runAttempt(false)
	return nil
}

// runAttempt performs one blocking connect attempt against the underlying
// client and completes the transition. Callers must hold the attempting
// flag; it is cleared here. Reports whether the attempt succeeded.
func (m *Manager) runAttempt(reconnect bool) bool {
	defer m.attempting.Store(false)

	m.mu.Lock()
	client := m.client
	cfg := m.cfg
	listener := m.listener
	m.mu.Unlock()

	if client == nil {
		return false
	}

	m.stats.IncConnectAttempts()

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		m.setState(StateDisconnected)
		m.stats.IncErrors()
		m.safeMetrics(func(mt *metrics.Metrics) { mt.IncConnectFailures() })
		m.logger.Error("failed to connect to broker",
			"broker", cfg.Broker,
			"reconnect", reconnect,
			"error", err)
		if listener.OnConnectFailure != nil {
			listener.OnConnectFailure(err)
		}
		return false
	}

	m.mu.Lock()
	// The manager may have been destroyed while the attempt was in
	// flight; do not resurrect it.
	if !m.initialized || m.client != client {
		m.mu.Unlock()
		return false
	}
	// Likewise, a reconnect attempt that lands after an owner-initiated
	// disconnect must not win over the owner.
	if reconnect && !m.wantReconnect.Load() {
		m.state = StateDisconnected
		m.mu.Unlock()
		client.Disconnect(disconnectQuiesce)
		m.logger.Info("reconnect attempt abandoned after disconnect",
			"broker", cfg.Broker)
		return false
	}
	m.state = StateConnected
	needSubscribe := !m.subscribed && cfg.StatusTopic != ""
	m.mu.Unlock()

	m.safeMetrics(func(mt *metrics.Metrics) { mt.SetConnectionStatus(true) })
	if reconnect {
		m.stats.IncReconnects()
		m.safeMetrics(func(mt *metrics.Metrics) { mt.IncReconnects() })
	}

	m.logger.Info("connected to broker",
		"broker", cfg.Broker,
		"clientId", cfg.ClientID,
		"reconnect", reconnect)

	if needSubscribe {
		m.subscribeStatusTopic(client, cfg, listener)
	}

	announcement := cfg.Announce.Online
	if reconnect {
		announcement = cfg.Announce.Reconnect
	}
	if cfg.WillTopic != "" && announcement != "" {
		m.announce(client, cfg, announcement)
	}

	if listener.OnConnectSuccess != nil {
		listener.OnConnectSuccess()
	}
	return true
}

// subscribeStatusTopic subscribes to the configured status topic and sets
// the subscription flag on success. Attempts are serialized by the
// attempting flag, so the flag cannot be set twice for one connection.
func (m *Manager) subscribeStatusTopic(client mqtt.Client, cfg *config.MQTTConfig, listener Listener) {
	token := client.Subscribe(cfg.StatusTopic, byte(cfg.QoS), m.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		m.stats.IncErrors()
		m.safeMetrics(func(mt *metrics.Metrics) { mt.IncSubscribeFailures() })
		m.logger.Error("failed to subscribe to status topic",
			"topic", cfg.StatusTopic,
			"error", err)
		if listener.OnSubscribeFailure != nil {
			listener.OnSubscribeFailure(cfg.StatusTopic, err)
		}
		return
	}

	m.mu.Lock()
	m.subscribed = true
	m.mu.Unlock()

	m.logger.Debug("subscribed to status topic", "topic", cfg.StatusTopic)
	if listener.OnSubscribeSuccess != nil {
		listener.OnSubscribeSuccess(cfg.StatusTopic)
	}
}

// announce publishes a presence payload to the will topic.
func (m *Manager) announce(client mqtt.Client, cfg *config.MQTTConfig, payload string) {
	token := client.Publish(cfg.WillTopic, byte(cfg.QoS), cfg.Retained, []byte(payload))
	token.Wait()
	if err := token.Error(); err != nil {
		m.stats.IncErrors()
		m.logger.Error("failed to publish presence announcement",
			"topic", cfg.WillTopic,
			"error", err)
		return
	}
	m.stats.IncMessagesPublished()
	m.safeMetrics(func(mt *metrics.Metrics) { mt.IncMessagesTotal("published") })
}

// handleConnectionLost reacts to an unsolicited connection loss reported
// by the underlying client. Owner-initiated disconnects never come here.
func (m *Manager) handleConnectionLost(_ mqtt.Client, err error) {
	m.mu.Lock()
	m.subscribed = false
	m.state = StateConnectionLost
	cfg := m.cfg
	listener := m.listener
	m.mu.Unlock()

	m.stats.IncErrors()
	m.safeMetrics(func(mt *metrics.Metrics) { mt.SetConnectionStatus(false) })
	m.logger.Error("connection lost", "error", err)

	if listener.OnConnectionLost != nil {
		listener.OnConnectionLost(err)
	}

	if cfg != nil && cfg.AutoReconnect {
		m.wantReconnect.Store(true)
		m.startPoller()
	}
}

// handleMessage forwards an arrived message verbatim to the listener.
func (m *Manager) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	m.stats.IncMessagesReceived()
	m.safeMetrics(func(mt *metrics.Metrics) { mt.IncMessagesTotal("received") })

	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()

	if listener.OnMessageArrived != nil {
		listener.OnMessageArrived(msg.Topic(), string(msg.Payload()))
	}
}

// Publish sends a message to a topic. A call while not connected or with
// an empty topic is a logged no-op; delivery failures are reported only
// through the logger and stats, never to the caller.
func (m *Manager) Publish(topic, payload string, qos byte, retained bool) error {
	if topic == "" {
		m.logger.Warn("publish skipped, empty topic")
		return nil
	}

	m.mu.Lock()
	connected := m.initialized && m.state == StateConnected
	client := m.client
	listener := m.listener
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("publish skipped, not connected", "topic", topic)
		return nil
	}

	token := client.Publish(topic, qos, retained, []byte(payload))
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.stats.IncErrors()
			m.logger.Error("failed to publish message",
				"topic", topic,
				"error", err)
			return
		}
		m.stats.IncMessagesPublished()
		m.safeMetrics(func(mt *metrics.Metrics) { mt.IncMessagesTotal("published") })
		m.logger.Debug("published message",
			"topic", topic,
			"payloadSize", len(payload))
		if listener.OnMessageDelivered != nil {
			listener.OnMessageDelivered(topic, payload)
		}
	}()
	return nil
}

// PublishDefault publishes with the configured default QoS and retained flag.
func (m *Manager) PublishDefault(topic, payload string) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	qos := byte(m.cfg.QoS)
	retained := m.cfg.Retained
	m.mu.Unlock()

	return m.Publish(topic, payload, qos, retained)
}

// Subscribe subscribes to a topic; arrived messages are forwarded to the
// listener. A call while not connected or with an empty topic is a
// logged no-op.
func (m *Manager) Subscribe(topic string, qos byte) error {
	if topic == "" {
		m.logger.Warn("subscribe skipped, empty topic")
		return nil
	}

	m.mu.Lock()
	connected := m.initialized && m.state == StateConnected
	client := m.client
	cfg := m.cfg
	listener := m.listener
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("subscribe skipped, not connected", "topic", topic)
		return nil
	}

	token := client.Subscribe(topic, qos, m.handleMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.stats.IncErrors()
			m.safeMetrics(func(mt *metrics.Metrics) { mt.IncSubscribeFailures() })
			m.logger.Error("failed to subscribe to topic",
				"topic", topic,
				"error", err)
			if listener.OnSubscribeFailure != nil {
				listener.OnSubscribeFailure(topic, err)
			}
			return
		}
		if topic == cfg.StatusTopic {
			m.mu.Lock()
			m.subscribed = true
			m.mu.Unlock()
		}
		m.logger.Debug("subscribed to topic", "topic", topic)
		if listener.OnSubscribeSuccess != nil {
			listener.OnSubscribeSuccess(topic)
		}
	}()
	return nil
}

// Unsubscribe removes a topic subscription. A call while not connected
// or with an empty topic is a logged no-op.
func (m *Manager) Unsubscribe(topic string) error {
	if topic == "" {
		m.logger.Warn("unsubscribe skipped, empty topic")
		return nil
	}

	m.mu.Lock()
	connected := m.initialized && m.state == StateConnected
	client := m.client
	cfg := m.cfg
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("unsubscribe skipped, not connected", "topic", topic)
		return nil
	}

	token := client.Unsubscribe(topic)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.stats.IncErrors()
			m.logger.Error("failed to unsubscribe from topic",
				"topic", topic,
				"error", err)
			return
		}
		if topic == cfg.StatusTopic {
			m.mu.Lock()
			m.subscribed = false
			m.mu.Unlock()
		}
		m.logger.Debug("unsubscribed from topic", "topic", topic)
	}()
	return nil
}

// Disconnect gracefully closes the connection. It publishes the offline
// announcement first so subscribers can tell a shutdown from a dropped
// will, and it suppresses any further reconnection attempts.
func (m *Manager) Disconnect() error {
	// An owner-initiated disconnect cancels pending reconnection even
	// when the connection is already down and the poller is retrying.
	m.wantReconnect.Store(false)

	m.mu.Lock()
	if !m.initialized || m.state != StateConnected {
		if m.state == StateConnectionLost {
			m.subscribed = false
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		return nil
	}
	client := m.client
	cfg := m.cfg
	m.mu.Unlock()

	if cfg.WillTopic != "" && cfg.Announce.Offline != "" {
		token := client.Publish(cfg.WillTopic, byte(cfg.QoS), cfg.Retained, []byte(cfg.Announce.Offline))
		token.WaitTimeout(publishTimeout)
	}

	m.logger.Info("disconnecting from broker", "broker", cfg.Broker)
	client.Disconnect(disconnectQuiesce)

	m.mu.Lock()
	m.subscribed = false
	m.state = StateDisconnected
	m.mu.Unlock()

	m.safeMetrics(func(mt *metrics.Metrics) { mt.SetConnectionStatus(false) })
	return nil
}

// Destroy forcibly tears the manager down: stops the poller, disconnects
// regardless of state, and resets all flags. Safe to call multiple times;
// the manager may be re-initialized afterwards.
func (m *Manager) Destroy() {
	m.wantReconnect.Store(false)
	m.stopPoller()

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.cfg = nil
	m.listener = Listener{}
	m.initialized = false
	m.subscribed = false
	m.state = StateDisconnected
	m.mu.Unlock()

	m.attempting.Store(false)

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}

	m.safeMetrics(func(mt *metrics.Metrics) { mt.SetConnectionStatus(false) })
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is established
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a snapshot of the lifecycle statistics
func (m *Manager) Stats() map[string]interface{} {
	return m.stats.GetStats()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// safeMetrics applies fn if metrics are enabled
func (m *Manager) safeMetrics(fn func(*metrics.Metrics)) {
	if m.metrics != nil {
		fn(m.metrics)
	}
}
