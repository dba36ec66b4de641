// Package surface holds the visibility rules UI surfaces follow when they
// read the lifecycle snapshot. Nothing here renders; a shell asks each
// surface whether it may show itself and forwards user actions.
package surface

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/install"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/lifecycle"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/update"
)

// Coordinator is the part of lifecycle.Coordinator surfaces use.
type Coordinator interface {
	Snapshot() lifecycle.Snapshot
	Subscribe(fn func(lifecycle.Snapshot)) (unsubscribe func())
	Install(ctx context.Context) install.Outcome
	ApplyUpdate(ctx context.Context) update.ApplyResult
	DismissSession(ctx context.Context) error
	DismissPermanent(ctx context.Context) error
}

// PrimaryModalVisible is the gate for the blocking install modal.
func PrimaryModalVisible(s lifecycle.Snapshot) bool {
	return s.IsInstallable && !s.IsInstalled && !s.PermanentlyDismissed
}

// PrimaryModal is the blocking install modal. "Not now" hides it for the
// current page view only; only DontAskAgain persists.
type PrimaryModal struct {
	c Coordinator

	mu     sync.Mutex
	hidden bool
}

// NewPrimaryModal creates the modal for one page view.
func NewPrimaryModal(c Coordinator) *PrimaryModal {
	return &PrimaryModal{c: c}
}

// Visible reports whether the modal may render.
func (m *PrimaryModal) Visible() bool {
	m.mu.Lock()
	hidden := m.hidden
	m.mu.Unlock()
	return !hidden && PrimaryModalVisible(m.c.Snapshot())
}

// Install runs the native install flow. The modal closes whatever the outcome.
func (m *PrimaryModal) Install(ctx context.Context) install.Outcome {
	m.hide()
	return m.c.Install(ctx)
}

// NotNow closes the modal for this page view.
func (m *PrimaryModal) NotNow() {
	m.hide()
}

// DontAskAgain closes the modal and sets the permanent dismissal flag.
func (m *PrimaryModal) DontAskAgain(ctx context.Context) error {
	m.hide()
	return m.c.DismissPermanent(ctx)
}

func (m *PrimaryModal) hide() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = true
}

// FloatingButton is the secondary install affordance. It appears only
// after the primary modal was permanently dismissed, and only once
// installability has held for the configured delay.
type FloatingButton struct {
	c     Coordinator
	delay time.Duration
	log   *slog.Logger

	mu          sync.Mutex
	ready       bool
	timer       *time.Timer
	lastSeq     uint64
	closed      bool
	unsubscribe func()
}

// NewFloatingButton creates the button and starts following the coordinator.
func NewFloatingButton(c Coordinator, delay time.Duration, log *slog.Logger) *FloatingButton {
	if log == nil {
		log = slog.Default()
	}
	b := &FloatingButton{c: c, delay: delay, log: log}
	unsubscribe := c.Subscribe(b.observe)

	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()

	b.evaluate(c.Snapshot(), true)
	return b
}

func floatingEligible(s lifecycle.Snapshot) bool {
	return s.IsInstallable && !s.IsInstalled && s.PermanentlyDismissed
}

// Visible reports whether the button may render.
func (b *FloatingButton) Visible() bool {
	b.mu.Lock()
	ready := b.ready && !b.closed
	b.mu.Unlock()
	if !ready {
		return false
	}
	s := b.c.Snapshot()
	return floatingEligible(s) && !s.SessionDismissed
}

// Install runs the native install flow, or reports that manual
// instructions are needed.
func (b *FloatingButton) Install(ctx context.Context) install.Outcome {
	return b.c.Install(ctx)
}

// Dismiss hides the button for the rest of the session.
func (b *FloatingButton) Dismiss(ctx context.Context) error {
	return b.c.DismissSession(ctx)
}

// Close stops following the coordinator and cancels the delay timer.
func (b *FloatingButton) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (b *FloatingButton) observe(s lifecycle.Snapshot) {
	b.evaluate(s, false)
}

func (b *FloatingButton) evaluate(s lifecycle.Snapshot, initial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if !initial && s.Seq < b.lastSeq {
		return
	}
	b.lastSeq = s.Seq

	if !floatingEligible(s) {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.ready = false
		return
	}
	if b.ready || b.timer != nil {
		return
	}
	if b.delay <= 0 {
		b.ready = true
		return
	}
	b.timer = time.AfterFunc(b.delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed || b.timer == nil {
			return
		}
		b.timer = nil
		b.ready = true
		b.log.Debug("floating install button ready")
	})
}

// UpdateBanner announces a waiting update. Closing it lasts for the current
// page view only; Navigate brings it back if the update is still waiting.
type UpdateBanner struct {
	c Coordinator

	mu      sync.Mutex
	closed  bool
	applied bool
}

// NewUpdateBanner creates the banner for one page view.
func NewUpdateBanner(c Coordinator) *UpdateBanner {
	return &UpdateBanner{c: c}
}

// Visible reports whether the banner may render.
func (u *UpdateBanner) Visible() bool {
	u.mu.Lock()
	hidden := u.closed || u.applied
	u.mu.Unlock()
	return !hidden && u.c.Snapshot().IsUpdateAvailable
}

// Close hides the banner until the next navigation.
func (u *UpdateBanner) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
}

// Navigate starts a new view within the same page session.
func (u *UpdateBanner) Navigate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = false
}

// Apply applies the update. The banner stays hidden unless nothing was waiting.
func (u *UpdateBanner) Apply(ctx context.Context) update.ApplyResult {
	result := u.c.ApplyUpdate(ctx)
	if result != update.ApplyUnavailable {
		u.mu.Lock()
		u.applied = true
		u.mu.Unlock()
	}
	return result
}

// StatusPanel is the read-only status view. It renders whatever the
// dismissal state.
type StatusPanel struct {
	Connectivity   string `json:"connectivity"`
	ConnectionType string `json:"connection_type"`
	SlowConnection bool   `json:"slow_connection"`
	Installed      bool   `json:"installed"`
	UpdateState    string `json:"update_state"`
	UpdateWaiting  bool   `json:"update_waiting"`
}

// NewStatusPanel builds the panel view from a snapshot.
func NewStatusPanel(s lifecycle.Snapshot) StatusPanel {
	connectivity := "online"
	if s.IsOffline {
		connectivity = "offline"
	}
	return StatusPanel{
		Connectivity:   connectivity,
		ConnectionType: string(s.ConnectionType),
		SlowConnection: s.IsSlowConnection,
		Installed:      s.IsInstalled,
		UpdateState:    string(s.UpdateState),
		UpdateWaiting:  s.IsUpdateAvailable,
	}
}
