// Package dismissal persists the user's opt-outs from install prompts.
//
// There are two independent scopes. The permanent flag lives in durable
// storage and survives restarts; the session flag lives in session storage
// and disappears when the browsing session ends. A flag is set when its key
// is present, whatever the value.
//
// Storage failures never surface to callers as a reason to stop working:
// a failed read is treated as "not dismissed", so the worst outcome is an
// extra prompt.
package dismissal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
)

const flagValue = "true"

// Record is both dismissal flags read together.
type Record struct {
	PermanentDismiss bool `json:"permanent_dismiss"`
	SessionDismiss   bool `json:"session_dismiss"`
}

// Store reads and writes the two dismissal scopes.
type Store struct {
	durable      store.PrefsRepository
	session      store.PrefsRepository
	permanentKey string
	sessionKey   string
	log          *slog.Logger

	mu        sync.RWMutex
	onFailure []func(error)
}

// New creates a dismissal store. A nil backend behaves like disabled storage.
func New(durable, session store.PrefsRepository, permanentKey, sessionKey string, log *slog.Logger) *Store {
	if durable == nil {
		durable = store.DisabledPrefs{}
	}
	if session == nil {
		session = store.DisabledPrefs{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		durable:      durable,
		session:      session,
		permanentKey: permanentKey,
		sessionKey:   sessionKey,
		log:          log,
	}
}

// OnFailure registers a callback for storage failures.
func (s *Store) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = append(s.onFailure, fn)
}

// DismissPermanently sets the durable flag.
func (s *Store) DismissPermanently(ctx context.Context) error {
	return s.write(ctx, s.durable, s.permanentKey, "permanent")
}

// DismissForSession sets the session flag.
func (s *Store) DismissForSession(ctx context.Context) error {
	return s.write(ctx, s.session, s.sessionKey, "session")
}

// IsPermanentlyDismissed reads the durable flag.
func (s *Store) IsPermanentlyDismissed(ctx context.Context) bool {
	return s.read(ctx, s.durable, s.permanentKey, "permanent")
}

// IsSessionDismissed reads the session flag.
func (s *Store) IsSessionDismissed(ctx context.Context) bool {
	return s.read(ctx, s.session, s.sessionKey, "session")
}

// Read returns both flags.
func (s *Store) Read(ctx context.Context) Record {
	return Record{
		PermanentDismiss: s.IsPermanentlyDismissed(ctx),
		SessionDismiss:   s.IsSessionDismissed(ctx),
	}
}

// Reset clears both flags. Intended for diagnostics and tests.
func (s *Store) Reset(ctx context.Context) error {
	var errs []error
	if err := s.durable.Delete(ctx, s.permanentKey); err != nil {
		errs = append(errs, s.fail("permanent", "delete", err))
	}
	if err := s.session.Delete(ctx, s.sessionKey); err != nil {
		errs = append(errs, s.fail("session", "delete", err))
	}
	return errors.Join(errs...)
}

func (s *Store) write(ctx context.Context, backend store.PrefsRepository, key, scope string) error {
	if err := backend.Set(ctx, key, flagValue); err != nil {
		return s.fail(scope, "write", err)
	}
	s.log.Debug("dismissal flag set", "scope", scope)
	return nil
}

func (s *Store) read(ctx context.Context, backend store.PrefsRepository, key, scope string) bool {
	_, err := backend.Get(ctx, key)
	if err == nil {
		return true
	}
	if !errors.Is(err, store.ErrNotFound) {
		_ = s.fail(scope, "read", err)
	}
	return false
}

func (s *Store) fail(scope, op string, err error) error {
	wrapped := fmt.Errorf("%s dismissal %s: %w: %w", scope, op, platform.ErrPersistenceFailure, err)
	s.log.Warn("dismissal storage failed", "scope", scope, "op", op, "error", err)

	s.mu.RLock()
	callbacks := make([]func(error), len(s.onFailure))
	copy(callbacks, s.onFailure)
	s.mu.RUnlock()

	for _, cb := range callbacks {
		cb(wrapped)
	}
	return wrapped
}
