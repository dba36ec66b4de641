package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionStore holds values for the current browsing session only.
// Nothing is written to disk; ending the session drops everything.
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore creates a session store. A zero ttl keeps values until the
// session ends; a positive ttl also expires them after that long.
func NewSessionStore(ttl time.Duration) *SessionStore {
	var cleanup time.Duration
	if ttl > 0 {
		cleanup = ttl
	}
	return &SessionStore{cache: cache.New(ttl, cleanup)}
}

func (s *SessionStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	value, _ := v.(string)
	return value, nil
}

func (s *SessionStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, cache.DefaultExpiration)
	return nil
}

func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// EndSession drops every session value.
func (s *SessionStore) EndSession() {
	s.cache.Flush()
}

// Len returns the number of live session values.
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}
