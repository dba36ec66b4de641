// Package update follows the background-update worker lifecycle and owns
// the "apply update" action.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/health"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
)

// ApplyResult is the result of ApplyUpdate.
type ApplyResult string

const (
	// ApplyApplied means the new worker took control and a reload was scheduled.
	ApplyApplied ApplyResult = "applied"
	// ApplyPending means the worker was told to take control but the handoff
	// was not observed before ctx ended. The reload still follows it.
	ApplyPending ApplyResult = "pending"
	// ApplyUnavailable means no update was waiting.
	ApplyUnavailable ApplyResult = "unavailable"
)

// Reasons reported to OnChange callbacks besides event type names.
const (
	ReasonUnsupported        = "worker_unsupported"
	ReasonRegistering        = "worker_registering"
	ReasonRegistered         = "worker_registered"
	ReasonRegistrationFailed = "worker_registration_failed"
	ReasonUpdateAvailable    = "update_available"
	ReasonApplyFailed        = "update_apply_failed"
)

// Platform is the page's background-worker API.
type Platform interface {
	WorkersSupported() bool
	HasController() bool
	Register(ctx context.Context, scriptURL, scope string) (platform.Registration, error)
}

// Reloader reloads the page.
type Reloader interface {
	Reload()
}

// Options tunes registration and reload behavior.
type Options struct {
	ScriptURL     string
	Scope         string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	ReloadDelay   time.Duration
	CheckInterval time.Duration
}

// Deps are the tracker's collaborators. History, Health and Log may be nil.
type Deps struct {
	Platform Platform
	Reloader Reloader
	History  store.TransitionRepository
	Health   *health.Monitor
	Log      *slog.Logger
}

// Status is the tracker's current view.
type Status struct {
	State           state.State         `json:"state"`
	UpdateAvailable bool                `json:"update_available"`
	Capability      platform.Capability `json:"capability"`
}

// Tracker drives the worker state machine from platform events.
type Tracker struct {
	plat     Platform
	reloader Reloader
	history  store.TransitionRepository
	health   *health.Monitor
	opts     Options
	log      *slog.Logger
	sm       *state.Machine

	mu              sync.Mutex
	reg             platform.Registration
	capability      platform.Capability
	installing      platform.Worker
	waiting         platform.Worker
	updateAvailable bool
	applying        bool
	handoff         chan struct{}
	reloadScheduled bool
	reloadTimer     *time.Timer
	stopped         bool
	done            chan struct{}
	removers        []func()
	callbacks       []func(reason string)
	wg              sync.WaitGroup
}

// NewTracker creates a tracker. Call Start and then Register.
func NewTracker(deps Deps, opts Options) *Tracker {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	capability := platform.CapabilityAbsent
	if deps.Platform.WorkersSupported() {
		capability = platform.CapabilityPresent
	}

	t := &Tracker{
		plat:       deps.Platform,
		reloader:   deps.Reloader,
		history:    deps.History,
		health:     deps.Health,
		opts:       opts,
		log:        log,
		sm:         state.NewMachine(),
		capability: capability,
		done:       make(chan struct{}),
	}
	t.sm.OnTransition(t.recordTransition)
	return t
}

// Machine returns the worker state machine.
func (t *Tracker) Machine() *state.Machine {
	return t.sm
}

// Start subscribes to worker events.
func (t *Tracker) Start(src platform.EventSource) {
	removers := []func(){
		src.AddEventListener(platform.EventUpdateFound, t.handleEvent),
		src.AddEventListener(platform.EventWorkerStateChange, t.handleEvent),
		src.AddEventListener(platform.EventControllerChange, t.handleEvent),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.removers = append(t.removers, removers...)
}

// Stop removes listeners and cancels the pending reload and periodic check.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	removers := t.removers
	t.removers = nil
	if t.reloadTimer != nil {
		t.reloadTimer.Stop()
		t.reloadTimer = nil
	}
	close(t.done)
	t.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	t.wg.Wait()
}

// OnChange registers a callback invoked whenever the tracker's view may
// have changed.
func (t *Tracker) OnChange(cb func(reason string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Status returns the current view.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		State:           t.sm.MustState(),
		UpdateAvailable: t.updateAvailable,
		Capability:      t.capability,
	}
}

// Register registers the worker script, retrying with exponential backoff.
// Failure is a capability loss for this page lifetime, never fatal.
func (t *Tracker) Register(ctx context.Context) error {
	if !t.plat.WorkersSupported() {
		t.mu.Lock()
		t.fireLocked(state.TriggerUnsupported)
		t.capability = platform.CapabilityAbsent
		t.mu.Unlock()
		t.log.Info("background workers not supported, update features disabled")
		t.notify(ReasonUnsupported)
		return platform.ErrCapabilityAbsent
	}

	t.mu.Lock()
	t.fireLocked(state.TriggerRegister)
	t.mu.Unlock()
	t.notify(ReasonRegistering)

	reg, err := t.registerWithRetry(ctx)
	if err != nil {
		t.mu.Lock()
		t.fireLocked(state.TriggerRegistrationFailed)
		t.capability = platform.CapabilityFailed
		t.mu.Unlock()
		if ctx.Err() != nil {
			t.log.Info("worker registration cancelled", "error", err)
		} else {
			t.log.Error("worker registration failed, update features unavailable", "error", err)
		}
		t.notify(ReasonRegistrationFailed)
		if !errors.Is(err, platform.ErrRegistrationFailure) {
			err = fmt.Errorf("%w: %w", platform.ErrRegistrationFailure, err)
		}
		return err
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.reg = reg
	becameAvailable := false
	if w := reg.Installing(); w != nil {
		t.fireLocked(state.TriggerUpdateFound)
		t.installing = w
	} else if w := reg.Waiting(); w != nil && t.plat.HasController() {
		// Left waiting by a previous page load.
		t.fireLocked(state.TriggerUpdateFound)
		becameAvailable = t.markWaitingLocked(w)
	}
	if t.opts.CheckInterval > 0 {
		t.wg.Add(1)
		go t.checkLoop(reg)
	}
	t.mu.Unlock()

	t.log.Info("worker registered", "scope", reg.Scope())
	t.notify(ReasonRegistered)
	if becameAvailable {
		t.notify(ReasonUpdateAvailable)
	}
	return nil
}

// ApplyUpdate tells the waiting worker to take control and waits for the
// controller handoff. Once the handoff is seen a reload is scheduled.
//
// If a newer version is still installing, the waiting one is applied and
// the newer one is left for the reloaded page to pick up.
func (t *Tracker) ApplyUpdate(ctx context.Context) ApplyResult {
	t.mu.Lock()
	if t.stopped || t.applying || t.waiting == nil {
		t.mu.Unlock()
		return ApplyUnavailable
	}
	if t.sm.MustState() == state.StateInstalling {
		if err := t.fireLocked(state.TriggerWaitingResumed); err != nil {
			t.mu.Unlock()
			return ApplyUnavailable
		}
		t.log.Info("applying waiting update while a newer one installs")
		t.installing = nil
	}
	if !t.sm.MustState().CanApply() {
		t.mu.Unlock()
		return ApplyUnavailable
	}
	if err := t.fireLocked(state.TriggerApply); err != nil {
		t.mu.Unlock()
		return ApplyUnavailable
	}
	worker := t.waiting
	handoff := make(chan struct{})
	t.applying = true
	t.handoff = handoff
	t.mu.Unlock()

	t.log.Info("applying update", "worker", worker.ID())
	if err := worker.SkipWaiting(ctx); err != nil {
		t.log.Warn("waiting worker refused to take control", "worker", worker.ID(), "error", err)
		t.mu.Lock()
		t.applying = false
		t.handoff = nil
		if t.sm.MustState() == state.StateActivating {
			t.fireLocked(state.TriggerApplyFailed)
		}
		t.mu.Unlock()
		t.notify(ReasonApplyFailed)
		return ApplyUnavailable
	}

	select {
	case <-handoff:
		return ApplyApplied
	case <-ctx.Done():
		t.log.Warn("controller handoff not observed yet", "error", ctx.Err())
		return ApplyPending
	}
}

func (t *Tracker) registerWithRetry(ctx context.Context) (platform.Registration, error) {
	var reg platform.Registration
	operation := func() error {
		r, err := t.plat.Register(ctx, t.opts.ScriptURL, t.opts.Scope)
		if t.health != nil {
			t.health.RecordRegistrationAttempt(err)
		}
		if err != nil {
			if errors.Is(err, platform.ErrCapabilityAbsent) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		reg = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.opts.BaseDelay
	bo.MaxInterval = t.opts.MaxDelay
	bo.MaxElapsedTime = 0

	maxRetries := t.opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, d time.Duration) {
		t.log.Warn("worker registration failed, retrying", "error", err, "retry_in", d)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (t *Tracker) checkLoop(reg platform.Registration) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.opts.CheckInterval)
			if err := reg.Update(ctx); err != nil {
				t.log.Warn("update check failed", "error", err)
			}
			cancel()
		}
	}
}

func (t *Tracker) handleEvent(evt platform.Event) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	var reasons []string
	var reload bool
	switch evt.Type {
	case platform.EventUpdateFound:
		payload, ok := evt.Payload.(platform.WorkerPayload)
		if !ok || payload.Worker == nil {
			t.mu.Unlock()
			t.log.Error("update found without worker", "payload", evt.Payload)
			return
		}
		if t.canFireLocked(state.TriggerUpdateFound) {
			t.fireLocked(state.TriggerUpdateFound)
		}
		t.installing = payload.Worker

	case platform.EventWorkerStateChange:
		payload, ok := evt.Payload.(platform.WorkerPayload)
		if !ok || payload.Worker == nil {
			t.mu.Unlock()
			t.log.Error("worker state change without worker", "payload", evt.Payload)
			return
		}
		if t.installing == nil || t.installing.ID() != payload.Worker.ID() {
			break
		}
		switch payload.State {
		case platform.WorkerInstalled:
			t.installing = nil
			if t.plat.HasController() {
				if t.markWaitingLocked(payload.Worker) {
					reasons = append(reasons, ReasonUpdateAvailable)
				}
			} else {
				// First install, nothing to replace.
				t.fireLocked(state.TriggerInstalledFresh)
			}
		case platform.WorkerRedundant:
			t.installing = nil
			if t.waiting != nil {
				t.fireLocked(state.TriggerWaitingResumed)
			} else {
				t.fireLocked(state.TriggerUpdateDiscarded)
			}
		}

	case platform.EventControllerChange:
		if !t.applying {
			t.mu.Unlock()
			t.log.Info("controller changed without apply, ignoring")
			return
		}
		t.fireLocked(state.TriggerControllerChanged)
		t.applying = false
		t.waiting = nil
		if t.handoff != nil {
			close(t.handoff)
			t.handoff = nil
		}
		reload = t.scheduleReloadLocked()

	default:
		t.mu.Unlock()
		return
	}
	callbacks := t.callbacksLocked()
	t.mu.Unlock()

	t.log.Debug("worker event", "type", evt.Type)
	for _, cb := range callbacks {
		cb(evt.Type.String())
		for _, reason := range reasons {
			cb(reason)
		}
	}
	if reload {
		t.reloader.Reload()
	}
}

// markWaitingLocked moves the machine to installed-waiting and reports
// whether the update just became available.
func (t *Tracker) markWaitingLocked(w platform.Worker) bool {
	t.fireLocked(state.TriggerInstalledWaiting)
	t.waiting = w
	if t.updateAvailable {
		return false
	}
	t.updateAvailable = true
	t.log.Info("update available", "worker", w.ID())
	return true
}

// scheduleReloadLocked arms the one reload allowed per page lifetime. It
// returns true when the caller should reload immediately after unlocking.
func (t *Tracker) scheduleReloadLocked() bool {
	if t.reloadScheduled {
		return false
	}
	t.reloadScheduled = true
	if t.health != nil {
		t.health.RecordReloadScheduled()
	}
	t.log.Info("new worker in control, reloading", "delay", t.opts.ReloadDelay)
	if t.opts.ReloadDelay <= 0 {
		return true
	}
	t.reloadTimer = time.AfterFunc(t.opts.ReloadDelay, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.reloadTimer = nil
		t.mu.Unlock()
		if !stopped {
			t.reloader.Reload()
		}
	})
	return false
}

func (t *Tracker) canFireLocked(trigger state.Trigger) bool {
	ok, err := t.sm.CanFire(context.Background(), trigger)
	return err == nil && ok
}

func (t *Tracker) fireLocked(trigger state.Trigger) error {
	if err := t.sm.Fire(context.Background(), trigger); err != nil {
		t.log.Warn("worker transition rejected", "trigger", trigger, "state", t.sm.MustState(), "error", err)
		return err
	}
	return nil
}

func (t *Tracker) recordTransition(ctx context.Context, from, to state.State, trigger state.Trigger) {
	t.log.Debug("worker state transition", "from", from, "to", to, "trigger", trigger)
	if t.history == nil {
		return
	}
	if err := t.history.LogTransition(ctx, from, to, trigger.String()); err != nil {
		t.log.Warn("failed to log worker transition", "error", err)
		if t.health != nil {
			t.health.RecordPersistenceFailure()
		}
	}
}

func (t *Tracker) notify(reason string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	callbacks := t.callbacksLocked()
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(reason)
	}
}

func (t *Tracker) callbacksLocked() []func(reason string) {
	callbacks := make([]func(reason string), len(t.callbacks))
	copy(callbacks, t.callbacks)
	return callbacks
}
