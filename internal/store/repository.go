// Package store provides persistence for dismissal flags and worker transition history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
)

var (
	// ErrNotFound is returned when a requested item is not found.
	ErrNotFound = errors.New("not found")

	// ErrStorageDisabled is returned by every operation of a disabled backend.
	ErrStorageDisabled = errors.New("storage disabled")
)

// PrefsRepository is a string key/value store. Presence of a key is what
// callers usually care about.
type PrefsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// TransitionRepository records background-update worker transitions.
type TransitionRepository interface {
	LogTransition(ctx context.Context, from, to state.State, trigger string) error
	GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error)
}

// Transition represents a worker state machine transition record.
type Transition struct {
	ID        int64       `json:"id"`
	FromState state.State `json:"from_state"`
	ToState   state.State `json:"to_state"`
	Trigger   string      `json:"trigger"`
	Timestamp time.Time   `json:"timestamp"`
}
