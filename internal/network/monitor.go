// Package network tracks connectivity and connection quality.
package network

import (
	"log/slog"
	"sync"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
)

// ConnectionType is the four-tier effective connection classification.
type ConnectionType string

const (
	ConnectionUnknown ConnectionType = "unknown"
	ConnectionSlow2G  ConnectionType = "slow-2g"
	Connection2G      ConnectionType = "2g"
	Connection3G      ConnectionType = "3g"
	Connection4G      ConnectionType = "4g"
)

// Classify maps a platform effectiveType value onto ConnectionType.
func Classify(effectiveType string) ConnectionType {
	switch ConnectionType(effectiveType) {
	case ConnectionSlow2G, Connection2G, Connection3G, Connection4G:
		return ConnectionType(effectiveType)
	default:
		return ConnectionUnknown
	}
}

// IsSlow returns true for the slow tier.
func (c ConnectionType) IsSlow() bool {
	return c == ConnectionSlow2G || c == Connection2G
}

// Connectivity is the page's connectivity surface.
type Connectivity interface {
	OnLine() bool
	// Connection returns the connection-quality object, if the platform has one.
	Connection() (platform.ConnectionInfo, bool)
}

// Status is the monitor's current view.
type Status struct {
	Offline        bool                `json:"offline"`
	Slow           bool                `json:"slow"`
	ConnectionType ConnectionType      `json:"connection_type"`
	Capability     platform.Capability `json:"capability"`
}

// Monitor follows online/offline transitions and connection-quality changes.
type Monitor struct {
	conn Connectivity
	log  *slog.Logger

	mu          sync.RWMutex
	offline     bool
	connType    ConnectionType
	capability  platform.Capability
	onlineBatch uint64
	removers    []func()
	callbacks   []func(reason string)
}

// NewMonitor creates a monitor seeded from the current connectivity flag.
func NewMonitor(conn Connectivity, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		conn:       conn,
		log:        log,
		offline:    !conn.OnLine(),
		connType:   ConnectionUnknown,
		capability: platform.CapabilityAbsent,
	}
	if info, ok := conn.Connection(); ok {
		m.capability = platform.CapabilityPresent
		m.connType = Classify(info.EffectiveType)
	}
	return m
}

// Capability reports whether a connection-quality object is available.
func (m *Monitor) Capability() platform.Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capability
}

// Start subscribes to connectivity events.
func (m *Monitor) Start(src platform.EventSource) {
	removers := []func(){
		src.AddEventListener(platform.EventOnline, m.handleEvent),
		src.AddEventListener(platform.EventOffline, m.handleEvent),
	}
	if m.Capability().Usable() {
		removers = append(removers, src.AddEventListener(platform.EventConnectionChange, m.handleEvent))
	}

	m.mu.Lock()
	m.removers = append(m.removers, removers...)
	m.mu.Unlock()
}

// Stop removes every listener registered by Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	removers := m.removers
	m.removers = nil
	m.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// OnChange registers a callback invoked after each event that changes or
// confirms the monitor's view. reason is the event type name.
func (m *Monitor) OnChange(cb func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Status returns the current view.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Offline:        m.offline,
		Slow:           m.connType.IsSlow(),
		ConnectionType: m.connType,
		Capability:     m.capability,
	}
}

func (m *Monitor) handleEvent(evt platform.Event) {
	m.mu.Lock()
	switch evt.Type {
	case platform.EventOnline:
		m.offline = false
		m.onlineBatch = evt.Batch
	case platform.EventOffline:
		// Online wins when both fire in the same tick. The event still
		// confirms the current view to listeners.
		if evt.Batch != 0 && evt.Batch == m.onlineBatch {
			m.log.Debug("offline ignored, online seen in same batch", "batch", evt.Batch)
			break
		}
		m.offline = true
	case platform.EventConnectionChange:
		effectiveType := ""
		if payload, ok := evt.Payload.(platform.ConnectionPayload); ok {
			effectiveType = payload.EffectiveType
		} else if info, ok := m.conn.Connection(); ok {
			effectiveType = info.EffectiveType
		}
		m.connType = Classify(effectiveType)
	default:
		m.mu.Unlock()
		return
	}
	callbacks := make([]func(reason string), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.log.Debug("network event", "type", evt.Type)
	for _, cb := range callbacks {
		cb(evt.Type.String())
	}
}
