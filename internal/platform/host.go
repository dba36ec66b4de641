package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HostOptions describes the capabilities of a simulated browser page.
type HostOptions struct {
	Online bool

	// ConnectionAPI exposes a connection-quality object with EffectiveType.
	ConnectionAPI bool
	EffectiveType string

	DisplayMode         DisplayMode
	NavigatorStandalone bool

	// InstallPrompt enables install-offer events.
	InstallPrompt bool
	// AutoChoice, when set, resolves prompts immediately instead of waiting
	// for ResolvePrompt.
	AutoChoice Choice

	// Workers enables the background-worker API.
	Workers bool
	// Controlled means an older worker already controls the page.
	Controlled bool
	// WaitingWorker means a new worker is already waiting at registration time.
	WaitingWorker bool
	// RegisterFailures fails that many registrations before succeeding.
	// A negative value fails every registration.
	RegisterFailures int
}

var (
	// ErrPromptUsed is returned when a prompt handle is used twice.
	ErrPromptUsed = errors.New("install prompt already used")
	// ErrNoPendingPrompt is returned by ResolvePrompt when no prompt is showing.
	ErrNoPendingPrompt = errors.New("no install prompt pending")
	// ErrNotWaiting is returned when a worker that is not waiting is asked to take control.
	ErrNotWaiting = errors.New("worker is not waiting")
)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Host is an in-process browser page. It implements every platform
// interface the trackers consume and exposes helpers that drive the same
// events a real page would deliver. The stdio shell uses it as the bridge
// to an embedding browser; tests use it as the fake platform.
type Host struct {
	mu   sync.Mutex
	opts HostOptions

	online        bool
	effectiveType string
	displayMode   DisplayMode

	listeners  map[EventType][]listenerEntry
	listenerID uint64
	batchID    uint64

	registration  *hostRegistration
	controller    *hostWorker
	workerSeq     int
	registerCalls int
	updateCalls   int

	pending     *hostPrompt
	reloads     int
	promptHooks []func()
	reloadHooks []func()
}

// NewHost creates a simulated page with the given capabilities.
func NewHost(opts HostOptions) *Host {
	mode := opts.DisplayMode
	if mode == "" {
		mode = DisplayBrowser
	}
	return &Host{
		opts:          opts,
		online:        opts.Online,
		effectiveType: opts.EffectiveType,
		displayMode:   mode,
		listeners:     make(map[EventType][]listenerEntry),
	}
}

// AddEventListener registers fn for events of type t.
func (h *Host) AddEventListener(t EventType, fn Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.listenerID++
	id := h.listenerID
	h.listeners[t] = append(h.listeners[t], listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			entries := h.listeners[t]
			for i, e := range entries {
				if e.id == id {
					h.listeners[t] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// ListenerCount returns the number of registered listeners across all types.
func (h *Host) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, entries := range h.listeners {
		n += len(entries)
	}
	return n
}

// Dispatch delivers evt to its listeners in registration order.
func (h *Host) Dispatch(evt Event) {
	h.mu.Lock()
	entries := make([]listenerEntry, len(h.listeners[evt.Type]))
	copy(entries, h.listeners[evt.Type])
	h.mu.Unlock()

	for _, e := range entries {
		e.fn(evt)
	}
}

// DispatchBatch delivers events that the platform fired in the same tick.
func (h *Host) DispatchBatch(evts ...Event) {
	h.mu.Lock()
	h.batchID++
	batch := h.batchID
	h.mu.Unlock()

	for _, evt := range evts {
		evt.Batch = batch
		h.Dispatch(evt)
	}
}

// OnPrompt registers a hook called when a native prompt starts waiting for the user.
func (h *Host) OnPrompt(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.promptHooks = append(h.promptHooks, fn)
}

// OnReload registers a hook called on every page reload request.
func (h *Host) OnReload(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadHooks = append(h.reloadHooks, fn)
}

// --- Install ---

// InstallPromptSupported reports whether the page fires install offers.
func (h *Host) InstallPromptSupported() bool {
	return h.opts.InstallPrompt
}

// OfferInstall fires an install offer and returns it, or nil when the
// platform has no install API.
func (h *Host) OfferInstall() *InstallOffer {
	if !h.opts.InstallPrompt {
		return nil
	}
	offer := &InstallOffer{
		Handle:    &hostPrompt{host: h},
		Platforms: []string{"web"},
	}
	h.Dispatch(NewEvent(EventInstallOffered, offer))
	return offer
}

// MarkInstalled fires the app-installed event.
func (h *Host) MarkInstalled() {
	h.Dispatch(NewEvent(EventAppInstalled, nil))
}

// ResolvePrompt answers the native prompt currently waiting for the user.
func (h *Host) ResolvePrompt(choice Choice) error {
	h.mu.Lock()
	p := h.pending
	h.pending = nil
	h.mu.Unlock()

	if p == nil {
		return ErrNoPendingPrompt
	}
	p.choice <- choice
	return nil
}

// PromptPending reports whether a native prompt is waiting for the user.
func (h *Host) PromptPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending != nil
}

type hostPrompt struct {
	host   *Host
	used   bool
	choice chan Choice
}

func (p *hostPrompt) Prompt(ctx context.Context) (Choice, error) {
	h := p.host
	h.mu.Lock()
	if p.used {
		h.mu.Unlock()
		return "", ErrPromptUsed
	}
	p.used = true
	if h.opts.AutoChoice != "" {
		choice := h.opts.AutoChoice
		h.mu.Unlock()
		return choice, nil
	}
	p.choice = make(chan Choice, 1)
	h.pending = p
	hooks := append([]func(){}, h.promptHooks...)
	h.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}

	select {
	case c := <-p.choice:
		return c, nil
	case <-ctx.Done():
		h.mu.Lock()
		if h.pending == p {
			h.pending = nil
		}
		h.mu.Unlock()
		return "", ctx.Err()
	}
}

// --- Display mode ---

// MatchesDisplayMode reports whether the page currently runs in mode.
func (h *Host) MatchesDisplayMode(mode DisplayMode) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.displayMode == mode
}

// NavigatorStandalone is the mobile-OS standalone flag.
func (h *Host) NavigatorStandalone() bool {
	return h.opts.NavigatorStandalone
}

// SetDisplayMode changes the display mode and fires display-mode-change.
func (h *Host) SetDisplayMode(mode DisplayMode) {
	h.mu.Lock()
	h.displayMode = mode
	h.mu.Unlock()
	h.Dispatch(NewEvent(EventDisplayModeChange, DisplayModePayload{Mode: mode}))
}

// --- Connectivity ---

// OnLine is the current connectivity flag.
func (h *Host) OnLine() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// Connection returns the connection-quality object if the page has one.
func (h *Host) Connection() (ConnectionInfo, bool) {
	if !h.opts.ConnectionAPI {
		return ConnectionInfo{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return ConnectionInfo{EffectiveType: h.effectiveType}, true
}

// SetOnline flips connectivity and fires online or offline.
func (h *Host) SetOnline(online bool) {
	h.mu.Lock()
	h.online = online
	h.mu.Unlock()
	if online {
		h.Dispatch(NewEvent(EventOnline, nil))
	} else {
		h.Dispatch(NewEvent(EventOffline, nil))
	}
}

// SetEffectiveType changes connection quality and fires connection-change.
// It is a no-op when the page has no connection API.
func (h *Host) SetEffectiveType(effectiveType string) {
	if !h.opts.ConnectionAPI {
		return
	}
	h.mu.Lock()
	h.effectiveType = effectiveType
	h.mu.Unlock()
	h.Dispatch(NewEvent(EventConnectionChange, ConnectionPayload{EffectiveType: effectiveType}))
}

// --- Background-update workers ---

// WorkersSupported reports whether the background-worker API exists.
func (h *Host) WorkersSupported() bool {
	return h.opts.Workers
}

// HasController reports whether a worker controls the page.
func (h *Host) HasController() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller != nil
}

// Register registers the worker script and returns its registration.
func (h *Host) Register(ctx context.Context, scriptURL, scope string) (Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !h.opts.Workers {
		return nil, ErrCapabilityAbsent
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.registerCalls++
	if h.opts.RegisterFailures < 0 || h.registerCalls <= h.opts.RegisterFailures {
		return nil, fmt.Errorf("register %s: %w", scriptURL, ErrRegistrationFailure)
	}

	if h.registration == nil {
		reg := &hostRegistration{host: h, scope: scope}
		if h.opts.Controlled {
			active := h.newWorkerLocked(WorkerActivated)
			reg.active = active
			h.controller = active
		}
		if h.opts.WaitingWorker {
			reg.waiting = h.newWorkerLocked(WorkerInstalled)
		}
		h.registration = reg
	}
	return h.registration, nil
}

// RegisterCallCount returns the number of Register calls.
func (h *Host) RegisterCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registerCalls
}

// UpdateCallCount returns the number of registration update checks.
func (h *Host) UpdateCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updateCalls
}

// BeginUpdate starts installing a new worker version and fires update-found.
func (h *Host) BeginUpdate() (Worker, error) {
	h.mu.Lock()
	reg := h.registration
	if reg == nil {
		h.mu.Unlock()
		return nil, ErrActionUnavailable
	}
	w := h.newWorkerLocked(WorkerInstalling)
	reg.installing = w
	h.mu.Unlock()

	h.Dispatch(NewEvent(EventUpdateFound, WorkerPayload{Worker: w, State: WorkerInstalling}))
	return w, nil
}

// FinishUpdate completes the installing worker. With an existing controller
// the worker waits; otherwise it activates straight away.
func (h *Host) FinishUpdate() error {
	h.mu.Lock()
	reg := h.registration
	if reg == nil || reg.installing == nil {
		h.mu.Unlock()
		return ErrActionUnavailable
	}
	w := reg.installing
	reg.installing = nil
	w.state = WorkerInstalled
	controlled := h.controller != nil
	var superseded *hostWorker
	if controlled {
		superseded = reg.waiting
		if superseded != nil {
			superseded.state = WorkerRedundant
		}
		reg.waiting = w
	}
	h.mu.Unlock()

	if superseded != nil {
		h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: superseded, State: WorkerRedundant}))
	}

	h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: w, State: WorkerInstalled}))
	if controlled {
		return nil
	}

	h.mu.Lock()
	w.state = WorkerActivated
	reg.active = w
	h.controller = w
	h.mu.Unlock()

	h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: w, State: WorkerActivated}))
	return nil
}

// DiscardUpdate fails the installing worker, which becomes redundant. A
// version already waiting is left in place.
func (h *Host) DiscardUpdate() error {
	h.mu.Lock()
	reg := h.registration
	if reg == nil || reg.installing == nil {
		h.mu.Unlock()
		return ErrActionUnavailable
	}
	w := reg.installing
	reg.installing = nil
	w.state = WorkerRedundant
	h.mu.Unlock()

	h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: w, State: WorkerRedundant}))
	return nil
}

// Reload requests a full page reload.
func (h *Host) Reload() {
	h.mu.Lock()
	h.reloads++
	hooks := append([]func(){}, h.reloadHooks...)
	h.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// ReloadCount returns the number of reload requests.
func (h *Host) ReloadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}

func (h *Host) newWorkerLocked(state WorkerState) *hostWorker {
	h.workerSeq++
	return &hostWorker{
		host:  h,
		id:    fmt.Sprintf("worker-%d", h.workerSeq),
		state: state,
	}
}

type hostRegistration struct {
	host       *Host
	scope      string
	installing *hostWorker
	waiting    *hostWorker
	active     *hostWorker
}

func (r *hostRegistration) Scope() string { return r.scope }

func (r *hostRegistration) Installing() Worker {
	r.host.mu.Lock()
	defer r.host.mu.Unlock()
	if r.installing == nil {
		return nil
	}
	return r.installing
}

func (r *hostRegistration) Waiting() Worker {
	r.host.mu.Lock()
	defer r.host.mu.Unlock()
	if r.waiting == nil {
		return nil
	}
	return r.waiting
}

func (r *hostRegistration) Active() Worker {
	r.host.mu.Lock()
	defer r.host.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active
}

func (r *hostRegistration) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.host.mu.Lock()
	defer r.host.mu.Unlock()
	r.host.updateCalls++
	return nil
}

type hostWorker struct {
	host  *Host
	id    string
	state WorkerState
}

func (w *hostWorker) ID() string { return w.id }

func (w *hostWorker) State() WorkerState {
	w.host.mu.Lock()
	defer w.host.mu.Unlock()
	return w.state
}

// SkipWaiting activates a waiting worker and hands it control of the page.
func (w *hostWorker) SkipWaiting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := w.host

	h.mu.Lock()
	reg := h.registration
	if reg == nil || reg.waiting != w {
		h.mu.Unlock()
		return ErrNotWaiting
	}
	w.state = WorkerActivating
	h.mu.Unlock()
	h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: w, State: WorkerActivating}))

	h.mu.Lock()
	w.state = WorkerActivated
	if reg.active != nil {
		reg.active.state = WorkerRedundant
	}
	reg.active = w
	reg.waiting = nil
	h.controller = w
	h.mu.Unlock()

	h.Dispatch(NewEvent(EventWorkerStateChange, WorkerPayload{Worker: w, State: WorkerActivated}))
	h.Dispatch(NewEvent(EventControllerChange, nil))
	return nil
}
