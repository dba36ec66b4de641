package update

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/health"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		ScriptURL:  "/sw.js",
		Scope:      "/",
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

type reasonLog struct {
	mu      sync.Mutex
	reasons []string
}

func (r *reasonLog) add(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *reasonLog) count(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.reasons {
		if got == reason {
			n++
		}
	}
	return n
}

type memoryHistory struct {
	mu          sync.Mutex
	transitions []store.Transition
	err         error
}

func (m *memoryHistory) LogTransition(ctx context.Context, from, to state.State, trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.transitions = append(m.transitions, store.Transition{
		ID:        int64(len(m.transitions) + 1),
		FromState: from,
		ToState:   to,
		Trigger:   trigger,
		Timestamp: time.Now(),
	})
	return nil
}

func (m *memoryHistory) GetTransitionHistory(ctx context.Context, limit int) ([]store.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Transition(nil), m.transitions...), nil
}

func newTracker(t *testing.T, opts platform.HostOptions, o Options) (*platform.Host, *Tracker, *reasonLog) {
	t.Helper()
	host := platform.NewHost(opts)
	tr := NewTracker(Deps{Platform: host, Reloader: host, Log: quietLogger()}, o)
	tr.Start(host)
	t.Cleanup(tr.Stop)

	reasons := &reasonLog{}
	tr.OnChange(reasons.add)
	return host, tr, reasons
}

func TestTracker_Unsupported(t *testing.T) {
	host, tr, reasons := newTracker(t, platform.HostOptions{}, testOptions())

	err := tr.Register(context.Background())
	assert.ErrorIs(t, err, platform.ErrCapabilityAbsent)

	status := tr.Status()
	assert.Equal(t, state.StateUnsupported, status.State)
	assert.Equal(t, platform.CapabilityAbsent, status.Capability)
	assert.False(t, status.UpdateAvailable)
	assert.Equal(t, 0, host.RegisterCallCount())
	assert.Equal(t, 1, reasons.count(ReasonUnsupported))
}

func TestTracker_RegisterRetriesThenSucceeds(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, RegisterFailures: 2}, testOptions())

	require.NoError(t, tr.Register(context.Background()))
	assert.Equal(t, 3, host.RegisterCallCount())

	status := tr.Status()
	assert.Equal(t, state.StateRegistering, status.State)
	assert.Equal(t, platform.CapabilityPresent, status.Capability)
}

func TestTracker_RegistrationFailureIsCapabilityLoss(t *testing.T) {
	host := platform.NewHost(platform.HostOptions{Workers: true, RegisterFailures: -1})
	mon := health.NewMonitor(nil)
	tr := NewTracker(Deps{Platform: host, Reloader: host, Health: mon, Log: quietLogger()}, testOptions())
	tr.Start(host)
	defer tr.Stop()

	err := tr.Register(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrRegistrationFailure))
	assert.Equal(t, 3, host.RegisterCallCount())

	status := tr.Status()
	assert.Equal(t, state.StateFailed, status.State)
	assert.Equal(t, platform.CapabilityFailed, status.Capability)
	assert.False(t, status.UpdateAvailable)
	assert.Equal(t, ApplyUnavailable, tr.ApplyUpdate(context.Background()))

	diag := mon.GetStatus()
	assert.Equal(t, int64(3), diag.RegistrationAttempts)
	assert.Equal(t, int64(3), diag.RegistrationFailures)
}

func TestTracker_RegisterHonorsContext(t *testing.T) {
	o := testOptions()
	o.BaseDelay = time.Second
	o.MaxDelay = time.Second
	o.MaxRetries = 10
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, RegisterFailures: -1}, o)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Register(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, host.RegisterCallCount())
	assert.Equal(t, state.StateFailed, tr.Status().State)
}

func TestTracker_UpdateBecomesAvailableOnce(t *testing.T) {
	host, tr, reasons := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	_, err := host.BeginUpdate()
	require.NoError(t, err)
	assert.Equal(t, state.StateInstalling, tr.Status().State)
	assert.False(t, tr.Status().UpdateAvailable)

	require.NoError(t, host.FinishUpdate())
	status := tr.Status()
	assert.Equal(t, state.StateInstalledWaiting, status.State)
	assert.True(t, status.UpdateAvailable)

	// A newer version superseding the waiting one keeps the flag set
	_, err = host.BeginUpdate()
	require.NoError(t, err)
	assert.True(t, tr.Status().UpdateAvailable)
	require.NoError(t, host.FinishUpdate())

	assert.True(t, tr.Status().UpdateAvailable)
	assert.Equal(t, 1, reasons.count(ReasonUpdateAvailable))
}

func TestTracker_FirstInstallIsNotAnUpdate(t *testing.T) {
	host, tr, reasons := newTracker(t, platform.HostOptions{Workers: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	_, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	status := tr.Status()
	assert.Equal(t, state.StateRegistering, status.State)
	assert.False(t, status.UpdateAvailable)
	assert.Equal(t, 0, reasons.count(ReasonUpdateAvailable))
	assert.True(t, host.HasController())
}

func TestTracker_WaitingWorkerAtRegistration(t *testing.T) {
	_, tr, reasons := newTracker(t, platform.HostOptions{Workers: true, Controlled: true, WaitingWorker: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	status := tr.Status()
	assert.Equal(t, state.StateInstalledWaiting, status.State)
	assert.True(t, status.UpdateAvailable)
	assert.Equal(t, 1, reasons.count(ReasonUpdateAvailable))
}

func TestTracker_ApplyUpdateReloadsOnce(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))
	_, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	result := tr.ApplyUpdate(context.Background())
	assert.Equal(t, ApplyApplied, result)
	assert.Equal(t, state.StateActive, tr.Status().State)
	assert.True(t, tr.Status().UpdateAvailable)
	assert.Equal(t, 1, host.ReloadCount())

	// Further controller changes never reload again
	host.Dispatch(platform.NewEvent(platform.EventControllerChange, nil))
	host.Dispatch(platform.NewEvent(platform.EventControllerChange, nil))
	assert.Equal(t, 1, host.ReloadCount())
	assert.Equal(t, ApplyUnavailable, tr.ApplyUpdate(context.Background()))
}

func TestTracker_ApplyWithoutUpdate(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	assert.Equal(t, ApplyUnavailable, tr.ApplyUpdate(context.Background()))
	assert.Equal(t, 0, host.ReloadCount())
}

func TestTracker_ForeignControllerChangeIgnored(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true, WaitingWorker: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	host.Dispatch(platform.NewEvent(platform.EventControllerChange, nil))

	assert.Equal(t, 0, host.ReloadCount())
	assert.Equal(t, state.StateInstalledWaiting, tr.Status().State)
}

func TestTracker_DelayedReload(t *testing.T) {
	o := testOptions()
	o.ReloadDelay = 10 * time.Millisecond
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true, WaitingWorker: true}, o)
	require.NoError(t, tr.Register(context.Background()))

	assert.Equal(t, ApplyApplied, tr.ApplyUpdate(context.Background()))
	assert.Equal(t, 0, host.ReloadCount())

	require.Eventually(t, func() bool { return host.ReloadCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_StopCancelsPendingReload(t *testing.T) {
	o := testOptions()
	o.ReloadDelay = 20 * time.Millisecond
	host := platform.NewHost(platform.HostOptions{Workers: true, Controlled: true, WaitingWorker: true})
	tr := NewTracker(Deps{Platform: host, Reloader: host, Log: quietLogger()}, o)
	tr.Start(host)
	require.NoError(t, tr.Register(context.Background()))
	require.Equal(t, ApplyApplied, tr.ApplyUpdate(context.Background()))

	tr.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, host.ReloadCount())
	assert.Equal(t, 0, host.ListenerCount())
}

func TestTracker_DiscardedUpdate(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))

	w, err := host.BeginUpdate()
	require.NoError(t, err)
	host.Dispatch(platform.NewEvent(platform.EventWorkerStateChange, platform.WorkerPayload{Worker: w, State: platform.WorkerRedundant}))

	status := tr.Status()
	assert.Equal(t, state.StateRegistering, status.State)
	assert.False(t, status.UpdateAvailable)
}

func TestTracker_NewerVersionDiscardedWhileWaiting(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))
	_, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	_, err = host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.DiscardUpdate())

	status := tr.Status()
	assert.Equal(t, state.StateInstalledWaiting, status.State)
	require.True(t, status.UpdateAvailable)

	assert.Equal(t, ApplyApplied, tr.ApplyUpdate(context.Background()))
	assert.Equal(t, state.StateActive, tr.Status().State)
	assert.Equal(t, 1, host.ReloadCount())
}

func TestTracker_ApplyWhileNewerVersionInstalls(t *testing.T) {
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true, Controlled: true}, testOptions())
	require.NoError(t, tr.Register(context.Background()))
	waiting, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	_, err = host.BeginUpdate()
	require.NoError(t, err)
	require.Equal(t, state.StateInstalling, tr.Status().State)
	require.True(t, tr.Status().UpdateAvailable)

	assert.Equal(t, ApplyApplied, tr.ApplyUpdate(context.Background()))
	assert.Equal(t, platform.WorkerActivated, waiting.State())
	assert.Equal(t, state.StateActive, tr.Status().State)
	assert.Equal(t, 1, host.ReloadCount())

	// The newer worker finishing later does not disturb the applied update
	require.NoError(t, host.FinishUpdate())
	assert.Equal(t, state.StateActive, tr.Status().State)
	assert.Equal(t, 1, host.ReloadCount())
}

func TestTracker_PeriodicUpdateCheck(t *testing.T) {
	o := testOptions()
	o.CheckInterval = 5 * time.Millisecond
	host, tr, _ := newTracker(t, platform.HostOptions{Workers: true}, o)
	require.NoError(t, tr.Register(context.Background()))

	require.Eventually(t, func() bool { return host.UpdateCallCount() >= 2 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	calls := host.UpdateCallCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, host.UpdateCallCount())
}

func TestTracker_TransitionHistory(t *testing.T) {
	host := platform.NewHost(platform.HostOptions{Workers: true, Controlled: true})
	history := &memoryHistory{}
	tr := NewTracker(Deps{Platform: host, Reloader: host, History: history, Log: quietLogger()}, testOptions())
	tr.Start(host)
	defer tr.Stop()

	require.NoError(t, tr.Register(context.Background()))
	_, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())
	require.Equal(t, ApplyApplied, tr.ApplyUpdate(context.Background()))

	got, err := history.GetTransitionHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 5)

	want := []state.State{
		state.StateRegistering,
		state.StateInstalling,
		state.StateInstalledWaiting,
		state.StateActivating,
		state.StateActive,
	}
	for i, rec := range got {
		assert.Equal(t, want[i], rec.ToState)
	}
	assert.Equal(t, "controller_changed", got[4].Trigger)
}

func TestTracker_HistoryFailureIsNotFatal(t *testing.T) {
	host := platform.NewHost(platform.HostOptions{Workers: true, Controlled: true, WaitingWorker: true})
	mon := health.NewMonitor(nil)
	history := &memoryHistory{err: errors.New("disk full")}
	tr := NewTracker(Deps{Platform: host, Reloader: host, History: history, Health: mon, Log: quietLogger()}, testOptions())
	tr.Start(host)
	defer tr.Stop()

	require.NoError(t, tr.Register(context.Background()))
	assert.True(t, tr.Status().UpdateAvailable)
	assert.Equal(t, int64(3), mon.GetStatus().PersistenceFailures)
}
