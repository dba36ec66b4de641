package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func TestEventType_String(t *testing.T) {
	for typ, name := range eventTypeNames {
		assert.Equal(t, name, typ.String())
		parsed, ok := ParseEventType(name)
		require.True(t, ok)
		assert.Equal(t, typ, parsed)
	}
	assert.Equal(t, "unknown", EventType(99).String())

	_, ok := ParseEventType("bogus")
	assert.False(t, ok)
}

func TestHost_ListenerRemoval(t *testing.T) {
	host := NewHost(HostOptions{Online: true})
	log := &eventLog{}

	remove := host.AddEventListener(EventOffline, log.add)
	host.AddEventListener(EventOnline, log.add)
	assert.Equal(t, 2, host.ListenerCount())

	host.SetOnline(false)
	remove()
	remove()
	assert.Equal(t, 1, host.ListenerCount())

	host.SetOnline(false)
	host.SetOnline(true)
	assert.Equal(t, []EventType{EventOffline, EventOnline}, log.types())
	assert.True(t, host.OnLine())
}

func TestHost_DispatchBatch(t *testing.T) {
	host := NewHost(HostOptions{})
	log := &eventLog{}
	host.AddEventListener(EventOnline, log.add)
	host.AddEventListener(EventOffline, log.add)

	host.DispatchBatch(NewEvent(EventOffline, nil), NewEvent(EventOnline, nil))
	host.Dispatch(NewEvent(EventOnline, nil))

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.events, 3)
	assert.NotZero(t, log.events[0].Batch)
	assert.Equal(t, log.events[0].Batch, log.events[1].Batch)
	assert.Zero(t, log.events[2].Batch)
}

func TestHost_Connection(t *testing.T) {
	host := NewHost(HostOptions{})
	_, ok := host.Connection()
	assert.False(t, ok)

	log := &eventLog{}
	host.AddEventListener(EventConnectionChange, log.add)
	host.SetEffectiveType("2g")
	assert.Empty(t, log.types())

	host = NewHost(HostOptions{ConnectionAPI: true, EffectiveType: "4g"})
	host.AddEventListener(EventConnectionChange, log.add)
	host.SetEffectiveType("3g")

	info, ok := host.Connection()
	require.True(t, ok)
	assert.Equal(t, "3g", info.EffectiveType)
	assert.Equal(t, []EventType{EventConnectionChange}, log.types())
}

func TestHost_DisplayMode(t *testing.T) {
	host := NewHost(HostOptions{})
	assert.True(t, host.MatchesDisplayMode(DisplayBrowser))

	host.SetDisplayMode(DisplayStandalone)
	assert.True(t, host.MatchesDisplayMode(DisplayStandalone))
	assert.False(t, host.MatchesDisplayMode(DisplayBrowser))

	assert.True(t, NewHost(HostOptions{NavigatorStandalone: true}).NavigatorStandalone())
}

func TestHost_OfferInstall(t *testing.T) {
	assert.Nil(t, NewHost(HostOptions{}).OfferInstall())

	host := NewHost(HostOptions{InstallPrompt: true})
	host.AddEventListener(EventInstallOffered, func(evt Event) {
		evt.Payload.(*InstallOffer).PreventDefault()
	})

	offer := host.OfferInstall()
	require.NotNil(t, offer)
	assert.True(t, offer.DefaultPrevented())
	assert.NotNil(t, offer.Handle)
}

func TestHost_PromptResolve(t *testing.T) {
	host := NewHost(HostOptions{InstallPrompt: true})
	prompted := make(chan struct{}, 1)
	host.OnPrompt(func() { prompted <- struct{}{} })

	offer := host.OfferInstall()
	require.NotNil(t, offer)

	type answer struct {
		choice Choice
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		c, err := offer.Handle.Prompt(context.Background())
		done <- answer{c, err}
	}()

	<-prompted
	assert.True(t, host.PromptPending())
	require.NoError(t, host.ResolvePrompt(ChoiceDismissed))

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, ChoiceDismissed, got.choice)
	assert.False(t, host.PromptPending())

	// Single use
	_, err := offer.Handle.Prompt(context.Background())
	assert.ErrorIs(t, err, ErrPromptUsed)

	assert.ErrorIs(t, host.ResolvePrompt(ChoiceAccepted), ErrNoPendingPrompt)
}

func TestHost_PromptContextExpiry(t *testing.T) {
	host := NewHost(HostOptions{InstallPrompt: true})
	offer := host.OfferInstall()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := offer.Handle.Prompt(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, host.PromptPending())
}

func TestHost_PromptAutoChoice(t *testing.T) {
	host := NewHost(HostOptions{InstallPrompt: true, AutoChoice: ChoiceAccepted})
	offer := host.OfferInstall()

	c, err := offer.Handle.Prompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ChoiceAccepted, c)
}

func TestHost_Register(t *testing.T) {
	tests := []struct {
		name     string
		opts     HostOptions
		attempts int
		wantErr  error
	}{
		{"no workers", HostOptions{}, 1, ErrCapabilityAbsent},
		{"always fails", HostOptions{Workers: true, RegisterFailures: -1}, 3, ErrRegistrationFailure},
		{"fails then succeeds", HostOptions{Workers: true, RegisterFailures: 2}, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := NewHost(tt.opts)
			var err error
			for i := 0; i < tt.attempts; i++ {
				_, err = host.Register(context.Background(), "/sw.js", "/")
			}
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHost(HostOptions{Workers: true}).Register(ctx, "/sw.js", "/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHost_RegisterExistingWorkers(t *testing.T) {
	host := NewHost(HostOptions{Workers: true, Controlled: true, WaitingWorker: true})

	reg, err := host.Register(context.Background(), "/sw.js", "/app/")
	require.NoError(t, err)
	assert.Equal(t, "/app/", reg.Scope())
	assert.True(t, host.HasController())
	require.NotNil(t, reg.Active())
	require.NotNil(t, reg.Waiting())
	assert.Nil(t, reg.Installing())
	assert.Equal(t, WorkerInstalled, reg.Waiting().State())

	again, err := host.Register(context.Background(), "/sw.js", "/app/")
	require.NoError(t, err)
	assert.Same(t, reg, again)
	assert.Equal(t, 2, host.RegisterCallCount())

	require.NoError(t, reg.Update(context.Background()))
	assert.Equal(t, 1, host.UpdateCallCount())
}

func TestHost_UpdateLifecycle(t *testing.T) {
	host := NewHost(HostOptions{Workers: true, Controlled: true})
	log := &eventLog{}
	for _, typ := range []EventType{EventUpdateFound, EventWorkerStateChange, EventControllerChange} {
		host.AddEventListener(typ, log.add)
	}

	_, err := host.BeginUpdate()
	assert.ErrorIs(t, err, ErrActionUnavailable)
	assert.ErrorIs(t, host.FinishUpdate(), ErrActionUnavailable)

	reg, err := host.Register(context.Background(), "/sw.js", "/")
	require.NoError(t, err)
	old := reg.Active()

	w, err := host.BeginUpdate()
	require.NoError(t, err)
	assert.Equal(t, WorkerInstalling, w.State())
	require.NoError(t, host.FinishUpdate())
	assert.Equal(t, WorkerInstalled, w.State())
	assert.Equal(t, w, reg.Waiting())

	assert.ErrorIs(t, old.SkipWaiting(context.Background()), ErrNotWaiting)
	require.NoError(t, w.SkipWaiting(context.Background()))

	assert.Equal(t, WorkerActivated, w.State())
	assert.Equal(t, WorkerRedundant, old.State())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, []EventType{
		EventUpdateFound,
		EventWorkerStateChange,
		EventWorkerStateChange,
		EventWorkerStateChange,
		EventControllerChange,
	}, log.types())
}

func TestHost_DiscardAndSupersede(t *testing.T) {
	host := NewHost(HostOptions{Workers: true, Controlled: true})
	assert.ErrorIs(t, host.DiscardUpdate(), ErrActionUnavailable)

	reg, err := host.Register(context.Background(), "/sw.js", "/")
	require.NoError(t, err)

	first, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	discarded, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.DiscardUpdate())
	assert.Equal(t, WorkerRedundant, discarded.State())
	assert.Nil(t, reg.Installing())
	assert.Equal(t, first, reg.Waiting())

	newer, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())
	assert.Equal(t, WorkerRedundant, first.State())
	assert.Equal(t, newer, reg.Waiting())
}

func TestHost_FirstInstallActivates(t *testing.T) {
	host := NewHost(HostOptions{Workers: true})
	_, err := host.Register(context.Background(), "/sw.js", "/")
	require.NoError(t, err)
	assert.False(t, host.HasController())

	w, err := host.BeginUpdate()
	require.NoError(t, err)
	require.NoError(t, host.FinishUpdate())

	assert.Equal(t, WorkerActivated, w.State())
	assert.True(t, host.HasController())
}

func TestHost_Reload(t *testing.T) {
	host := NewHost(HostOptions{})
	calls := 0
	host.OnReload(func() { calls++ })

	host.Reload()
	host.Reload()
	assert.Equal(t, 2, host.ReloadCount())
	assert.Equal(t, 2, calls)
}
