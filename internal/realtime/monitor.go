package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Snapshot is the read-only connection state shown to users.
type Snapshot struct {
	Online          bool     `json:"online"`
	TransportStatus Status   `json:"transport_status"`
	Epoch           uint64   `json:"epoch"`
	Subscriptions   int      `json:"subscriptions"`
	Topics          []string `json:"topics"`
}

// Monitor translates environment signals into epoch increments.
//
// Coming back online always increments and is never debounced. Going offline
// only records state. Transport failures go through SafeIncrement.
type Monitor struct {
	epoch    *Epoch
	registry *Registry
	logger   *zerolog.Logger

	mu     sync.RWMutex
	online bool
	status Status
}

func NewMonitor(epoch *Epoch, registry *Registry, logger *zerolog.Logger) *Monitor {
	return &Monitor{
		epoch:    epoch,
		registry: registry,
		logger:   orNop(logger),
		online:   true,
		status:   StatusInitializing,
	}
}

// Attach starts observing the transport and the given sources. If the
// transport already reports connected, the status starts as connected.
// The returned func detaches every listener.
func (m *Monitor) Attach(t Transport, sources ...Source) (detach func()) {
	var stops []func()
	if t != nil {
		if t.Status() == StatusConnected {
			m.mu.Lock()
			m.status = StatusConnected
			m.mu.Unlock()
		}
		stops = append(stops, t.Observe(m))
	}
	for _, s := range sources {
		if s != nil {
			stops = append(stops, s.Observe(m))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, stop := range stops {
				stop()
			}
		})
	}
}

func (m *Monitor) NetworkChanged(online bool) {
	m.mu.Lock()
	m.online = online
	if !online {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	if online {
		m.logger.Info().Msg("network online")
		m.epoch.Increment("network online")
		return
	}
	m.logger.Warn().Msg("network offline")
}

func (m *Monitor) TransportStatusChanged(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()

	if !s.Failed() {
		m.logger.Debug().Str("status", string(s)).Msg("transport status")
		return
	}
	m.logger.Warn().Str("status", string(s)).Msg("transport failed")
	m.epoch.SafeIncrement("transport " + string(s))
}

func (m *Monitor) RecoveryRequested(reason string) {
	if reason == "" {
		reason = "manual"
	}
	m.logger.Info().Str("reason", reason).Msg("recovery requested")
	m.epoch.SafeIncrement("recovery requested: " + reason)
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) TransportStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	snap := Snapshot{Online: m.online, TransportStatus: m.status}
	m.mu.RUnlock()

	snap.Epoch = m.epoch.Value()
	if m.registry != nil {
		snap.Topics = m.registry.Topics()
		snap.Subscriptions = len(snap.Topics)
	}
	return snap
}
