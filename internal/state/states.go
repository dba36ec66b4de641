// Package state provides the finite state machine for the background-update worker lifecycle.
package state

// State represents a stage of the background-update worker lifecycle as seen by the page.
type State string

const (
	// Primary lifecycle
	StateIdle             State = "idle"
	StateRegistering      State = "registering"
	StateInstalling       State = "installing"
	StateInstalledWaiting State = "installed_waiting"
	StateActivating       State = "activating"
	StateActive           State = "active"

	// Capability loss
	StateUnsupported State = "unsupported"
	StateFailed      State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if no further worker transitions are expected
// during this page lifetime.
func (s State) IsTerminal() bool {
	switch s {
	case StateActive, StateUnsupported, StateFailed:
		return true
	default:
		return false
	}
}

// IsCapabilityLost returns true if update features are unavailable for this session.
func (s State) IsCapabilityLost() bool {
	return s == StateUnsupported || s == StateFailed
}

// CanApply returns true if an update is waiting to take control.
func (s State) CanApply() bool {
	return s == StateInstalledWaiting
}
