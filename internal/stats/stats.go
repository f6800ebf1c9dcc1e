package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks connection lifecycle statistics
type Collector struct {
	StartTime         time.Time
	ConnectAttempts   uint64
	Reconnects        uint64
	MessagesPublished uint64
	MessagesReceived  uint64
	Errors            uint64

	lastReconnect time.Time
	mu            sync.RWMutex
}

// NewCollector creates a new stats collector
func NewCollector() *Collector {
	return &Collector{
		StartTime: time.Now(),
	}
}

// IncConnectAttempts records an outbound connection attempt
func (s *Collector) IncConnectAttempts() {
	atomic.AddUint64(&s.ConnectAttempts, 1)
}

// IncReconnects records a successful reconnection
func (s *Collector) IncReconnects() {
	atomic.AddUint64(&s.Reconnects, 1)
	s.mu.Lock()
	s.lastReconnect = time.Now()
	s.mu.Unlock()
}

// IncMessagesPublished records a delivered publish
func (s *Collector) IncMessagesPublished() {
	atomic.AddUint64(&s.MessagesPublished, 1)
}

// IncMessagesReceived records an arrived message
func (s *Collector) IncMessagesReceived() {
	atomic.AddUint64(&s.MessagesReceived, 1)
}

// IncErrors records a transport error
func (s *Collector) IncErrors() {
	atomic.AddUint64(&s.Errors, 1)
}

// LastReconnect returns when the last successful reconnection happened.
// The zero time means no reconnection has occurred yet.
func (s *Collector) LastReconnect() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReconnect
}

// GetStats returns current statistics
func (s *Collector) GetStats() map[string]interface{} {
	uptime := time.Since(s.StartTime)
	return map[string]interface{}{
		"uptime":             uptime.String(),
		"connect_attempts":   atomic.LoadUint64(&s.ConnectAttempts),
		"reconnects":         atomic.LoadUint64(&s.Reconnects),
		"messages_published": atomic.LoadUint64(&s.MessagesPublished),
		"messages_received":  atomic.LoadUint64(&s.MessagesReceived),
		"errors":             atomic.LoadUint64(&s.Errors),
		"last_reconnect":     s.LastReconnect(),
	}
}

// GetStatsJSON returns stats as JSON
func (s *Collector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}
