// Package platform models the browser-provided signals the lifecycle
// trackers consume: install offers, worker lifecycle, connectivity and
// display mode.
package platform

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of platform event.
type EventType int

const (
	EventInstallOffered EventType = iota
	EventAppInstalled
	EventOnline
	EventOffline
	EventConnectionChange
	EventDisplayModeChange
	EventUpdateFound
	EventWorkerStateChange
	EventControllerChange
)

var eventTypeNames = map[EventType]string{
	EventInstallOffered:    "install_offered",
	EventAppInstalled:      "app_installed",
	EventOnline:            "online",
	EventOffline:           "offline",
	EventConnectionChange:  "connection_change",
	EventDisplayModeChange: "display_mode_change",
	EventUpdateFound:       "update_found",
	EventWorkerStateChange: "worker_state_change",
	EventControllerChange:  "controller_change",
}

// String returns the string representation of the event type.
func (e EventType) String() string {
	if name, ok := eventTypeNames[e]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType maps a name produced by String back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for t, n := range eventTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Event represents a platform event.
type Event struct {
	Type    EventType
	Payload interface{}
	// Batch groups events delivered in the same tick. Zero means unbatched.
	Batch     uint64
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Listener receives platform events.
type Listener func(Event)

// EventSource delivers platform events to registered listeners.
// Events are delivered one at a time, in platform order.
type EventSource interface {
	AddEventListener(t EventType, fn Listener) (remove func())
}

// Choice is the user's answer to a native install prompt.
type Choice string

const (
	ChoiceAccepted  Choice = "accepted"
	ChoiceDismissed Choice = "dismissed"
)

// PromptHandle is the one-shot handle carried by an install offer.
type PromptHandle interface {
	// Prompt shows the native install UI and resolves with the user's choice.
	Prompt(ctx context.Context) (Choice, error)
}

// InstallOffer is the payload of EventInstallOffered. The platform shows its
// own install UI unless PreventDefault is called while handling the event.
type InstallOffer struct {
	Handle    PromptHandle
	Platforms []string

	mu        sync.Mutex
	prevented bool
}

// PreventDefault suppresses the platform's own install UI.
func (o *InstallOffer) PreventDefault() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prevented = true
}

// DefaultPrevented reports whether PreventDefault was called.
func (o *InstallOffer) DefaultPrevented() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prevented
}

// ConnectionPayload contains data for connection-change events.
type ConnectionPayload struct {
	EffectiveType string
}

// ConnectionInfo is the platform's connection-quality object.
type ConnectionInfo struct {
	EffectiveType string
}

// DisplayMode is the display-mode media feature value.
type DisplayMode string

const (
	DisplayBrowser    DisplayMode = "browser"
	DisplayStandalone DisplayMode = "standalone"
	DisplayFullscreen DisplayMode = "fullscreen"
	DisplayMinimalUI  DisplayMode = "minimal-ui"
)

// DisplayModePayload contains data for display-mode-change events.
type DisplayModePayload struct {
	Mode DisplayMode
}

// WorkerState is a background-update worker's own lifecycle state.
type WorkerState string

const (
	WorkerInstalling WorkerState = "installing"
	WorkerInstalled  WorkerState = "installed"
	WorkerActivating WorkerState = "activating"
	WorkerActivated  WorkerState = "activated"
	WorkerRedundant  WorkerState = "redundant"
)

// WorkerPayload contains data for update-found and worker-state-change events.
type WorkerPayload struct {
	Worker Worker
	State  WorkerState
}

// Worker is a single background-update worker version.
type Worker interface {
	ID() string
	State() WorkerState
	// SkipWaiting asks a waiting worker to take control of the page.
	SkipWaiting(ctx context.Context) error
}

// Registration is the result of registering a worker script.
type Registration interface {
	Scope() string
	Installing() Worker
	Waiting() Worker
	Active() Worker
	// Update asks the platform to check for a newer worker script.
	Update(ctx context.Context) error
}
