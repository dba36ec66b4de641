package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitor(t *testing.T) {
	m := NewMonitor(state.NewMachine())
	require.NotNil(t, m)

	status := m.GetStatus()
	assert.Equal(t, string(state.StateIdle), status.UpdateState)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))
	assert.Empty(t, status.EventsReceived)
}

func TestMonitor_NoMachine(t *testing.T) {
	m := NewMonitor(nil)
	assert.Equal(t, "", m.GetStatus().UpdateState)

	sm := state.NewMachine()
	m.AttachMachine(sm)
	assert.Equal(t, string(state.StateIdle), m.GetStatus().UpdateState)
}

func TestMonitor_RecordEvent(t *testing.T) {
	m := NewMonitor(nil)

	before := time.Now()
	m.RecordEvent(platform.EventOnline.String())
	m.RecordEvent(platform.EventOnline.String())
	m.RecordEvent(platform.EventInstallOffered.String())

	status := m.GetStatus()
	assert.Equal(t, int64(2), status.EventsReceived["online"])
	assert.Equal(t, int64(1), status.EventsReceived["install_offered"])
	assert.Equal(t, int64(2), m.EventCount("online"))
	assert.False(t, status.LastEvent.Before(before))
}

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor(nil)

	m.RecordSnapshotPublished()
	m.RecordSnapshotPublished()
	m.RecordPersistenceFailure()
	m.RecordRegistrationAttempt(errors.New("boom"))
	m.RecordRegistrationAttempt(nil)
	m.RecordPromptShown()
	m.RecordReloadScheduled()

	status := m.GetStatus()
	assert.Equal(t, int64(2), status.SnapshotsPublished)
	assert.Equal(t, int64(1), status.PersistenceFailures)
	assert.Equal(t, 2, status.RegistrationAttempts)
	assert.Equal(t, 1, status.RegistrationFailures)
	assert.Equal(t, 1, status.PromptsShown)
	assert.Equal(t, 1, status.ReloadsScheduled)
}

func TestMonitor_StateUpdates(t *testing.T) {
	sm := state.NewMachine()
	m := NewMonitor(sm)

	require.NoError(t, sm.Fire(context.Background(), state.TriggerRegister))

	assert.Equal(t, string(state.StateRegistering), m.GetStatus().UpdateState)
}
