package dismissal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	permanentKey = "pwa-install-dismissed"
	sessionKey   = "pwa-floating-install-dismissed"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*Store, *store.SQLiteStore, *store.SessionStore) {
	durable, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	session := store.NewSessionStore(0)
	return New(durable.Prefs, session, permanentKey, sessionKey, quietLogger()), durable, session
}

func TestStore_DefaultsToNotDismissed(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	assert.False(t, s.IsPermanentlyDismissed(ctx))
	assert.False(t, s.IsSessionDismissed(ctx))
}

func TestStore_WritesVisibleToNextRead(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DismissPermanently(ctx))
	assert.True(t, s.IsPermanentlyDismissed(ctx))

	require.NoError(t, s.DismissForSession(ctx))
	assert.True(t, s.IsSessionDismissed(ctx))
}

func TestStore_ScopesAreIndependent(t *testing.T) {
	tests := []struct {
		name      string
		permanent bool
		session   bool
	}{
		{"neither", false, false},
		{"permanent only", true, false},
		{"session only", false, true},
		{"both", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestStore(t)
			ctx := context.Background()

			if tt.permanent {
				require.NoError(t, s.DismissPermanently(ctx))
			}
			if tt.session {
				require.NoError(t, s.DismissForSession(ctx))
			}

			rec := s.Read(ctx)
			assert.Equal(t, tt.permanent, rec.PermanentDismiss)
			assert.Equal(t, tt.session, rec.SessionDismiss)
		})
	}
}

func TestStore_SessionEndClearsOnlySessionFlag(t *testing.T) {
	s, _, session := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DismissPermanently(ctx))
	require.NoError(t, s.DismissForSession(ctx))

	session.EndSession()

	assert.True(t, s.IsPermanentlyDismissed(ctx))
	assert.False(t, s.IsSessionDismissed(ctx))
}

func TestStore_PermanentSurvivesNewStore(t *testing.T) {
	s, durable, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DismissPermanently(ctx))

	// Fresh page: new session storage, same durable storage
	fresh := New(durable.Prefs, store.NewSessionStore(0), permanentKey, sessionKey, quietLogger())
	assert.True(t, fresh.IsPermanentlyDismissed(ctx))
	assert.False(t, fresh.IsSessionDismissed(ctx))
}

func TestStore_Reset(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DismissPermanently(ctx))
	require.NoError(t, s.DismissForSession(ctx))
	require.NoError(t, s.Reset(ctx))

	assert.Equal(t, Record{}, s.Read(ctx))
}

func TestStore_DisabledStorage(t *testing.T) {
	s := New(nil, nil, permanentKey, sessionKey, quietLogger())
	ctx := context.Background()

	var failures []error
	s.OnFailure(func(err error) { failures = append(failures, err) })

	err := s.DismissPermanently(ctx)
	assert.ErrorIs(t, err, platform.ErrPersistenceFailure)
	assert.ErrorIs(t, err, store.ErrStorageDisabled)

	// Failed writes read back as not dismissed
	assert.False(t, s.IsPermanentlyDismissed(ctx))
	assert.False(t, s.IsSessionDismissed(ctx))

	err = s.Reset(ctx)
	assert.ErrorIs(t, err, platform.ErrPersistenceFailure)

	// write + two reads + two deletes
	assert.Len(t, failures, 5)
}

type flakyPrefs struct {
	store.PrefsRepository
	failGet bool
}

func (f *flakyPrefs) Get(ctx context.Context, key string) (string, error) {
	if f.failGet {
		return "", errors.New("quota exceeded")
	}
	return f.PrefsRepository.Get(ctx, key)
}

func TestStore_ReadFailureTreatedAsFalse(t *testing.T) {
	backend := &flakyPrefs{PrefsRepository: store.NewSessionStore(0)}
	s := New(backend, store.NewSessionStore(0), permanentKey, sessionKey, quietLogger())
	ctx := context.Background()

	require.NoError(t, s.DismissPermanently(ctx))
	assert.True(t, s.IsPermanentlyDismissed(ctx))

	backend.failGet = true
	assert.False(t, s.IsPermanentlyDismissed(ctx))
}
