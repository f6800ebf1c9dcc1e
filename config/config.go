package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"clientId"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	KeepAlive      int    `yaml:"keepAlive"`      // seconds
	ConnectTimeout int    `yaml:"connectTimeout"` // seconds
	QoS            int    `yaml:"qos"`            // default delivery level, 0-2
	CleanSession   bool   `yaml:"cleanSession"`
	AutoReconnect  bool   `yaml:"autoReconnect"`
	Retained       bool   `yaml:"retained"`

	// ReconnectInterval is how often the reconnection poller fires
	// after an unsolicited connection loss. Duration string.
	ReconnectInterval string `yaml:"reconnectInterval"`

	// WillTopic is the presence topic: the broker publishes the offline
	// announcement there as the last will, and the agent publishes its
	// online/reconnect announcements to the same topic.
	WillTopic string `yaml:"willTopic"`

	// StatusTopic is subscribed after every successful connect.
	StatusTopic string `yaml:"statusTopic"`

	Announce AnnounceConfig `yaml:"announce"`
}

// AnnounceConfig holds the presence payloads published on lifecycle events.
// The offline payload doubles as the last-will message.
type AnnounceConfig struct {
	Online    string `yaml:"online"`
	Offline   string `yaml:"offline"`
	Reconnect string `yaml:"reconnect"`
}

type LogConfig struct {
	Level       string `yaml:"level"`    // debug, info, warn, error
	Encoding    string `yaml:"encoding"` // json or console
	LogToStdout bool   `yaml:"logToStdout"`
	LogToFile   bool   `yaml:"logToFile"`
	Directory   string `yaml:"directory"`
	MaxSize     int    `yaml:"maxSize"` // megabytes
	MaxAge      int    `yaml:"maxAge"`  // days
	MaxBackups  int    `yaml:"maxBackups"`
	Compress    bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Defaults returns a configuration populated with default values.
// Load unmarshals on top of it, so absent fields keep their defaults.
func Defaults() *Config {
	return &Config{
		MQTT: MQTTConfig{
			KeepAlive:         60,
			ConnectTimeout:    30,
			QoS:               0,
			CleanSession:      true,
			AutoReconnect:     true,
			ReconnectInterval: "5s",
		},
		Logging: LogConfig{
			Level:       "info",
			Encoding:    "json",
			LogToStdout: true,
			MaxSize:     100,
			MaxAge:      28,
			MaxBackups:  3,
		},
		Metrics: MetricsConfig{
			Address: ":2112",
			Path:    "/metrics",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required")
	}
	if cfg.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt client id is required")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1, or 2")
	}
	if cfg.MQTT.KeepAlive <= 0 {
		return fmt.Errorf("keep alive must be greater than 0")
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be greater than 0")
	}
	if _, err := time.ParseDuration(cfg.MQTT.ReconnectInterval); err != nil {
		return fmt.Errorf("invalid reconnect interval: %w", err)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	if cfg.Logging.LogToFile && cfg.Logging.Directory == "" {
		return fmt.Errorf("log directory is required when logging to file")
	}

	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(logLevel string, reconnectInterval time.Duration, metricsAddr, metricsPath string) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if reconnectInterval > 0 {
		c.MQTT.ReconnectInterval = reconnectInterval.String()
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
}
