package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine with worker-lifecycle behavior.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(TriggerRegister, StateRegistering).
		Permit(TriggerUnsupported, StateUnsupported)

	// Registering also covers "registered, watching for a new version".
	sm.Configure(StateRegistering).
		Permit(TriggerUpdateFound, StateInstalling).
		Permit(TriggerRegistrationFailed, StateFailed)

	// WaitingResumed returns to an older version that is still waiting
	// when the newer one is discarded or the older one is applied.
	sm.Configure(StateInstalling).
		Permit(TriggerInstalledWaiting, StateInstalledWaiting).
		Permit(TriggerInstalledFresh, StateRegistering).
		Permit(TriggerUpdateDiscarded, StateRegistering).
		Permit(TriggerWaitingResumed, StateInstalledWaiting)

	// A newer version may start installing while one is already waiting.
	sm.Configure(StateInstalledWaiting).
		Permit(TriggerApply, StateActivating).
		Permit(TriggerUpdateFound, StateInstalling)

	sm.Configure(StateActivating).
		Permit(TriggerControllerChanged, StateActive).
		Permit(TriggerApplyFailed, StateInstalledWaiting)

	// Terminal for this page lifetime; the reload resets everything.
	sm.Configure(StateActive)
	sm.Configure(StateUnsupported)
	sm.Configure(StateFailed)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	s, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return s.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, s State) (bool, error) {
	current, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return current == s, nil
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	s, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return s
}

// IsUpdateWaiting returns true if a new version is installed and waiting.
func (m *Machine) IsUpdateWaiting() bool {
	return m.MustState() == StateInstalledWaiting
}
