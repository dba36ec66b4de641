// Package install tracks whether the app can be installed, whether it
// already is, and owns the one-shot native install prompt.
package install

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
)

// Outcome is the result of an install attempt.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDismissed   Outcome = "dismissed"
	OutcomeUnavailable Outcome = "unavailable"
)

// Reasons reported to OnChange callbacks besides event type names.
const (
	// ReasonGracePeriod means the fallback timer declared the app
	// installable without a native offer.
	ReasonGracePeriod = "install_grace_period"
	// ReasonPromptShown means the handle was consumed and the native prompt
	// is waiting for the user.
	ReasonPromptShown = "install_prompt_shown"
)

// Probe answers the capability and display-mode questions the tracker asks
// the page.
type Probe interface {
	MatchesDisplayMode(mode platform.DisplayMode) bool
	NavigatorStandalone() bool
	InstallPromptSupported() bool
	WorkersSupported() bool
}

// Status is the tracker's current view.
type Status struct {
	Installable           bool                `json:"installable"`
	Installed             bool                `json:"installed"`
	HasPendingAction      bool                `json:"has_pending_action"`
	RequiresManualInstall bool                `json:"requires_manual_install"`
	Capability            platform.Capability `json:"capability"`
}

var installedModes = []platform.DisplayMode{
	platform.DisplayStandalone,
	platform.DisplayFullscreen,
	platform.DisplayMinimalUI,
}

// Tracker captures install offers and exposes the install action.
type Tracker struct {
	probe       Probe
	gracePeriod time.Duration
	log         *slog.Logger

	mu             sync.Mutex
	handle         platform.PromptHandle
	installedEvent bool
	fallback       bool
	offered        bool
	stopped        bool
	graceTimer     *time.Timer
	removers       []func()
	callbacks      []func(reason string)
}

// NewTracker creates a tracker. A zero gracePeriod disables the fallback.
func NewTracker(probe Probe, gracePeriod time.Duration, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		probe:       probe,
		gracePeriod: gracePeriod,
		log:         log,
	}
}

// Start subscribes to install events and arms the grace-period timer.
func (t *Tracker) Start(src platform.EventSource) {
	removers := []func(){
		src.AddEventListener(platform.EventInstallOffered, t.handleEvent),
		src.AddEventListener(platform.EventAppInstalled, t.handleEvent),
		src.AddEventListener(platform.EventDisplayModeChange, t.handleEvent),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.removers = append(t.removers, removers...)
	if t.gracePeriod > 0 && t.graceTimer == nil && !t.stopped {
		t.graceTimer = time.AfterFunc(t.gracePeriod, t.gracePeriodElapsed)
	}
}

// Stop removes listeners and cancels the grace-period timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	removers := t.removers
	t.removers = nil
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	t.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// OnChange registers a callback invoked whenever the tracker's view may
// have changed.
func (t *Tracker) OnChange(cb func(reason string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Capability reports whether the page has a native install API.
func (t *Tracker) Capability() platform.Capability {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capabilityLocked()
}

// IsInstalled re-evaluates the installed state.
func (t *Tracker) IsInstalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installedLocked()
}

// Status returns the current view. Display mode is read from the page on
// every call.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	installed := t.installedLocked()
	hasHandle := t.handle != nil
	installable := !installed && (hasHandle || t.fallback)
	return Status{
		Installable:           installable,
		Installed:             installed,
		HasPendingAction:      !installed && hasHandle,
		RequiresManualInstall: installable && !hasHandle,
		Capability:            t.capabilityLocked(),
	}
}

// Install shows the native prompt and waits for the user's choice. The
// handle is consumed whatever the outcome. Without a handle, or in the
// fallback branch, no platform call is made and OutcomeUnavailable is
// returned. ctx bounds only how long this call waits.
func (t *Tracker) Install(ctx context.Context) Outcome {
	t.mu.Lock()
	if t.stopped || t.handle == nil || t.installedLocked() {
		manual := t.fallback && !t.installedLocked()
		t.mu.Unlock()
		if manual {
			t.log.Info("native install unavailable, manual instructions required")
		}
		return OutcomeUnavailable
	}
	handle := t.handle
	t.handle = nil
	callbacks := t.callbacksLocked()
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(ReasonPromptShown)
	}

	choice, err := handle.Prompt(ctx)
	if err != nil {
		t.log.Warn("install prompt failed", "error", err)
		return OutcomeUnavailable
	}

	t.log.Info("install prompt resolved", "choice", choice)
	if choice == platform.ChoiceAccepted {
		return OutcomeAccepted
	}
	return OutcomeDismissed
}

func (t *Tracker) installedLocked() bool {
	if t.installedEvent {
		return true
	}
	for _, mode := range installedModes {
		if t.probe.MatchesDisplayMode(mode) {
			return true
		}
	}
	return t.probe.NavigatorStandalone()
}

func (t *Tracker) capabilityLocked() platform.Capability {
	if t.offered || t.probe.InstallPromptSupported() {
		return platform.CapabilityPresent
	}
	return platform.CapabilityAbsent
}

func (t *Tracker) handleEvent(evt platform.Event) {
	t.mu.Lock()
	switch evt.Type {
	case platform.EventInstallOffered:
		offer, ok := evt.Payload.(*platform.InstallOffer)
		if !ok || offer == nil || offer.Handle == nil {
			t.mu.Unlock()
			t.log.Error("install offer without prompt handle", "payload", evt.Payload)
			return
		}
		offer.PreventDefault()
		t.handle = offer.Handle
		t.offered = true
		t.fallback = false
		if t.graceTimer != nil {
			t.graceTimer.Stop()
			t.graceTimer = nil
		}
	case platform.EventAppInstalled:
		t.installedEvent = true
		t.handle = nil
		t.fallback = false
	case platform.EventDisplayModeChange:
		// Installed state is re-read from the probe.
	default:
		t.mu.Unlock()
		return
	}
	callbacks := t.callbacksLocked()
	t.mu.Unlock()

	t.log.Debug("install event", "type", evt.Type)
	for _, cb := range callbacks {
		cb(evt.Type.String())
	}
}

func (t *Tracker) gracePeriodElapsed() {
	t.mu.Lock()
	t.graceTimer = nil
	if t.stopped || t.handle != nil || t.installedLocked() || !t.probe.WorkersSupported() {
		t.mu.Unlock()
		return
	}
	t.fallback = true
	callbacks := t.callbacksLocked()
	t.mu.Unlock()

	t.log.Info("no install offer within grace period, assuming installable", "grace_period", t.gracePeriod)
	for _, cb := range callbacks {
		cb(ReasonGracePeriod)
	}
}

func (t *Tracker) callbacksLocked() []func(reason string) {
	callbacks := make([]func(reason string), len(t.callbacks))
	copy(callbacks, t.callbacks)
	return callbacks
}
