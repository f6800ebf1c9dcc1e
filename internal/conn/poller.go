package conn

import (
	"sync"
	"time"
)

// poller is a cancellable periodic reconnection task. One poller runs at
// a time; it stops itself once the connection is back or no longer wanted.
type poller struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *poller) cancel() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// startPoller launches the reconnection poller if one is not running.
func (m *Manager) startPoller() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poller != nil {
		return
	}
	p := &poller{stop: make(chan struct{})}
	m.poller = p

	m.logger.Info("starting reconnection poller", "interval", m.reconnectInterval)
	go m.pollReconnect(p, m.reconnectInterval)
}

func (m *Manager) stopPoller() {
	m.mu.Lock()
	p := m.poller
	m.mu.Unlock()

	if p != nil {
		p.cancel()
	}
}

// clearPoller detaches p from the manager so a later loss can start a
// fresh poller.
func (m *Manager) clearPoller(p *poller) {
	m.mu.Lock()
	if m.poller == p {
		m.poller = nil
	}
	m.mu.Unlock()
}

// pollReconnect retries the connection at a fixed interval until it
// succeeds, is cancelled, or reconnection is no longer wanted. Failed
// attempts are retried indefinitely; there is no backoff.
func (m *Manager) pollReconnect(p *poller, interval time.Duration) {
	defer m.clearPoller(p)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if !m.wantReconnect.Load() {
				return
			}
			if m.State() == StateConnected {
				return
			}
			// Skip the tick if a connect attempt is already in flight.
			if !m.attempting.CompareAndSwap(false, true) {
				continue
			}
			m.setState(StateConnecting)
			if m.runAttempt(true) {
				return
			}
		}
	}
}
