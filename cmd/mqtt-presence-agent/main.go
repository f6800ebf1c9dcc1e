package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mqtt-presence-agent/config"
	"mqtt-presence-agent/internal/conn"
	"mqtt-presence-agent/internal/logger"
	"mqtt-presence-agent/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	randomSuffix := flag.Bool("client-suffix", false, "append a random suffix to the client id")

	// Optional override flags
	logLevelOverride := flag.String("log-level", "", "override log level (empty = use config)")
	reconnectOverride := flag.Duration("reconnect-interval", 0, "override reconnection poll interval (0 = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(
		*logLevelOverride,
		*reconnectOverride,
		*metricsAddrOverride,
		*metricsPathOverride,
	)

	// Multiple agent instances sharing a config must not collide on the
	// broker client id.
	if *randomSuffix {
		cfg.MQTT.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, uuid.NewString()[:8])
	}

	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	manager := conn.New(logger, metricsService)

	listener := conn.Listener{
		OnConnectSuccess: func() {
			logger.Info("broker connection established")
		},
		OnConnectFailure: func(cause error) {
			logger.Error("broker connection failed", "error", cause)
		},
		OnConnectionLost: func(cause error) {
			logger.Error("broker connection lost", "error", cause)
		},
		OnMessageArrived: func(topic, payload string) {
			logger.Info("message arrived", "topic", topic, "payload", payload)
		},
		OnMessageDelivered: func(topic, payload string) {
			logger.Debug("message delivered", "topic", topic, "payloadSize", len(payload))
		},
		OnSubscribeSuccess: func(topic string) {
			logger.Info("subscribed", "topic", topic)
		},
		OnSubscribeFailure: func(topic string, cause error) {
			logger.Error("subscribe failed", "topic", topic, "error", cause)
		},
	}

	if err := manager.Init(&cfg.MQTT, listener); err != nil {
		logger.Fatal("failed to initialize connection manager", "error", err)
	}

	if err := manager.Connect(); err != nil {
		logger.Fatal("failed to start connection", "error", err)
	}

	logger.Info("mqtt-presence-agent started",
		"broker", cfg.MQTT.Broker,
		"clientId", cfg.MQTT.ClientID,
		"statusTopic", cfg.MQTT.StatusTopic,
		"metricsEnabled", cfg.Metrics.Enabled)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}

	if err := manager.Disconnect(); err != nil {
		logger.Error("failed to disconnect", "error", err)
	}
	manager.Destroy()
}
