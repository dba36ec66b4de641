// Package health keeps diagnostics counters for the lifecycle coordinator.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
)

// Status is a point-in-time view of the diagnostics counters.
type Status struct {
	UpdateState          string           `json:"update_state"`
	UptimeSeconds        int64            `json:"uptime_seconds"`
	LastEvent            time.Time        `json:"last_event"`
	EventsReceived       map[string]int64 `json:"events_received"`
	SnapshotsPublished   int64            `json:"snapshots_published"`
	RegistrationAttempts int              `json:"registration_attempts"`
	RegistrationFailures int              `json:"registration_failures"`
	PersistenceFailures  int64            `json:"persistence_failures"`
	PromptsShown         int              `json:"prompts_shown"`
	ReloadsScheduled     int              `json:"reloads_scheduled"`
}

// Monitor tracks what the coordinator has seen and done during this page lifetime.
type Monitor struct {
	stateMachine *state.Machine

	startTime            time.Time
	lastEvent            time.Time
	events               map[string]int64
	registrationAttempts int
	registrationFailures int
	promptsShown         int
	reloadsScheduled     int

	snapshotsPublished  atomic.Int64
	persistenceFailures atomic.Int64

	mu sync.RWMutex
}

// NewMonitor creates a new diagnostics monitor. sm may be nil when the
// update tracker has not been built yet; see AttachMachine.
func NewMonitor(sm *state.Machine) *Monitor {
	return &Monitor{
		stateMachine: sm,
		startTime:    time.Now(),
		events:       make(map[string]int64),
	}
}

// AttachMachine sets the worker state machine reported in Status.
func (m *Monitor) AttachMachine(sm *state.Machine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateMachine = sm
}

// GetStatus returns the current diagnostics status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	updateState := ""
	if m.stateMachine != nil {
		s, _ := m.stateMachine.State(context.Background())
		updateState = string(s)
	}

	events := make(map[string]int64, len(m.events))
	for name, n := range m.events {
		events[name] = n
	}

	return Status{
		UpdateState:          updateState,
		UptimeSeconds:        int64(time.Since(m.startTime).Seconds()),
		LastEvent:            m.lastEvent,
		EventsReceived:       events,
		SnapshotsPublished:   m.snapshotsPublished.Load(),
		RegistrationAttempts: m.registrationAttempts,
		RegistrationFailures: m.registrationFailures,
		PersistenceFailures:  m.persistenceFailures.Load(),
		PromptsShown:         m.promptsShown,
		ReloadsScheduled:     m.reloadsScheduled,
	}
}

// RecordEvent records a change reported to the coordinator, usually a
// platform event type name.
func (m *Monitor) RecordEvent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[name]++
	m.lastEvent = time.Now()
}

// EventCount returns how many events named name were recorded.
func (m *Monitor) EventCount(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[name]
}

// RecordSnapshotPublished records one snapshot publication.
func (m *Monitor) RecordSnapshotPublished() {
	m.snapshotsPublished.Add(1)
}

// RecordPersistenceFailure records a failed storage read or write.
func (m *Monitor) RecordPersistenceFailure() {
	m.persistenceFailures.Add(1)
}

// RecordRegistrationAttempt records a worker registration attempt and its result.
func (m *Monitor) RecordRegistrationAttempt(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrationAttempts++
	if err != nil {
		m.registrationFailures++
	}
}

// RecordPromptShown records a native install prompt.
func (m *Monitor) RecordPromptShown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptsShown++
}

// RecordReloadScheduled records a scheduled page reload.
func (m *Monitor) RecordReloadScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadsScheduled++
}
