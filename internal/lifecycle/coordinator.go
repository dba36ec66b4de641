// Package lifecycle composes the install, update and network trackers and
// the dismissal store into one snapshot plus a small action surface. It is
// the only package UI surfaces depend on.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/config"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/dismissal"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/health"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/install"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/network"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/update"
)

// Platform is everything the coordinator needs from the page.
type Platform interface {
	platform.EventSource
	install.Probe
	network.Connectivity
	update.Platform
	update.Reloader
}

// Deps are the coordinator's storage backends. Any of them may be nil; a
// nil prefs backend behaves like disabled storage.
type Deps struct {
	Durable store.PrefsRepository
	Session store.PrefsRepository
	History store.TransitionRepository
	Log     *slog.Logger
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// Coordinator owns the trackers for one page lifetime.
type Coordinator struct {
	log       *slog.Logger
	health    *health.Monitor
	dismissal *dismissal.Store
	network   *network.Monitor
	install   *install.Tracker
	update    *update.Tracker
	history   store.TransitionRepository

	cancel     context.CancelFunc
	registered chan struct{}
	wg         sync.WaitGroup

	// computeMu pairs each computed snapshot with the seq it is stamped
	// with. It is never held while subscribers run.
	computeMu sync.Mutex

	mu          sync.Mutex
	seq         uint64
	subscribers []subscriber
	subID       uint64
	closed      bool
}

// New builds the trackers, subscribes them to the page and starts worker
// registration in the background.
func New(p Platform, cfg *config.Config, deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		log:        log,
		health:     health.NewMonitor(nil),
		history:    deps.History,
		registered: make(chan struct{}),
	}

	c.dismissal = dismissal.New(deps.Durable, deps.Session, cfg.PermanentDismissKey, cfg.SessionDismissKey, log.With("component", "dismissal"))
	c.dismissal.OnFailure(func(error) { c.health.RecordPersistenceFailure() })

	c.network = network.NewMonitor(p, log.With("component", "network"))
	c.install = install.NewTracker(p, cfg.InstallGracePeriod, log.With("component", "install"))
	c.update = update.NewTracker(update.Deps{
		Platform: p,
		Reloader: p,
		History:  deps.History,
		Health:   c.health,
		Log:      log.With("component", "update"),
	}, update.Options{
		ScriptURL:     cfg.WorkerScriptURL,
		Scope:         cfg.WorkerScope,
		MaxRetries:    cfg.RegistrationMaxRetries,
		BaseDelay:     cfg.RegistrationBaseDelay,
		MaxDelay:      cfg.RegistrationMaxDelay,
		ReloadDelay:   cfg.ReloadDelay,
		CheckInterval: cfg.UpdateCheckInterval,
	})
	c.health.AttachMachine(c.update.Machine())

	c.network.OnChange(c.handleChange)
	c.install.OnChange(c.handleChange)
	c.update.OnChange(c.handleChange)

	c.network.Start(p)
	c.install.Start(p)
	c.update.Start(p)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.registered)
		_ = c.update.Register(ctx)
	}()

	log.Info("lifecycle coordinator started",
		"install", c.install.Capability(),
		"connection", c.network.Capability(),
		"workers", c.update.Status().Capability)
	return c
}

// Registered is closed once worker registration has finished, successfully or not.
func (c *Coordinator) Registered() <-chan struct{} {
	return c.registered
}

// Snapshot computes the current snapshot. Installed state and dismissal
// flags are read fresh on every call. Seq is that of the latest published
// snapshot, which is never newer than the returned contents.
func (c *Coordinator) Snapshot() Snapshot {
	c.computeMu.Lock()
	defer c.computeMu.Unlock()

	snap := c.compute(context.Background())
	c.mu.Lock()
	snap.Seq = c.seq
	c.mu.Unlock()
	return snap
}

// Subscribe registers fn to receive every published snapshot. fn runs
// synchronously on the goroutine that caused the change and must not block.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subID++
	id := c.subID
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subscribers {
				if s.id == id {
					c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
					break
				}
			}
		})
	}
}

// Install shows the native install prompt if a handle is available.
func (c *Coordinator) Install(ctx context.Context) install.Outcome {
	if c.isClosed() {
		return install.OutcomeUnavailable
	}
	outcome := c.install.Install(ctx)
	c.log.Info("install action finished", "outcome", outcome)
	c.publish("install")
	return outcome
}

// ApplyUpdate hands control to the waiting worker. A reload follows.
func (c *Coordinator) ApplyUpdate(ctx context.Context) update.ApplyResult {
	if c.isClosed() {
		return update.ApplyUnavailable
	}
	result := c.update.ApplyUpdate(ctx)
	c.log.Info("apply update action finished", "result", result)
	c.publish("apply_update")
	return result
}

// DismissSession hides secondary install affordances for this session. A
// storage failure is returned but the snapshot is republished regardless.
func (c *Coordinator) DismissSession(ctx context.Context) error {
	if c.isClosed() {
		return platform.ErrActionUnavailable
	}
	err := c.dismissal.DismissForSession(ctx)
	c.publish("dismiss_session")
	return err
}

// DismissPermanent hides the primary install modal for good.
func (c *Coordinator) DismissPermanent(ctx context.Context) error {
	if c.isClosed() {
		return platform.ErrActionUnavailable
	}
	err := c.dismissal.DismissPermanently(ctx)
	c.publish("dismiss_permanent")
	return err
}

// ResetDismissals clears both dismissal flags.
func (c *Coordinator) ResetDismissals(ctx context.Context) error {
	if c.isClosed() {
		return platform.ErrActionUnavailable
	}
	err := c.dismissal.Reset(ctx)
	c.log.Info("dismissals reset")
	c.publish("reset_dismissals")
	return err
}

// Diagnostics returns the health counters.
func (c *Coordinator) Diagnostics() health.Status {
	return c.health.GetStatus()
}

// TransitionHistory returns the newest worker transitions first.
func (c *Coordinator) TransitionHistory(ctx context.Context, limit int) ([]store.Transition, error) {
	if c.history == nil {
		return nil, store.ErrStorageDisabled
	}
	return c.history.GetTransitionHistory(ctx, limit)
}

// Close unregisters every listener, stops every timer and waits for
// background registration to finish. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subscribers = nil
	c.mu.Unlock()

	c.cancel()
	c.network.Stop()
	c.install.Stop()
	c.update.Stop()
	c.wg.Wait()
	c.log.Info("lifecycle coordinator closed")
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) handleChange(reason string) {
	c.health.RecordEvent(reason)
	if reason == install.ReasonPromptShown {
		c.health.RecordPromptShown()
	}
	c.publish(reason)
}

func (c *Coordinator) publish(reason string) {
	c.computeMu.Lock()
	snap := c.compute(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.computeMu.Unlock()
		return
	}
	c.seq++
	snap.Seq = c.seq
	subscribers := make([]subscriber, len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()
	c.computeMu.Unlock()

	c.health.RecordSnapshotPublished()
	c.log.Debug("snapshot published", "reason", reason, "seq", snap.Seq)
	for _, s := range subscribers {
		s.fn(snap)
	}
}

func (c *Coordinator) compute(ctx context.Context) Snapshot {
	inst := c.install.Status()
	net := c.network.Status()
	upd := c.update.Status()
	rec := c.dismissal.Read(ctx)

	return Snapshot{
		IsInstallable:           inst.Installable,
		IsInstalled:             inst.Installed,
		IsOffline:               net.Offline,
		IsSlowConnection:        net.Slow,
		ConnectionType:          net.ConnectionType,
		IsUpdateAvailable:       upd.UpdateAvailable,
		HasPendingInstallAction: inst.HasPendingAction,
		RequiresManualInstall:   inst.RequiresManualInstall,
		PermanentlyDismissed:    rec.PermanentDismiss,
		SessionDismissed:        rec.SessionDismiss,
		UpdateState:             upd.State,
		Capabilities: Capabilities{
			Install:    inst.Capability,
			Workers:    upd.Capability,
			Connection: net.Capability,
		},
	}
}
