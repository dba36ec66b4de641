package store

import "context"

// DisabledPrefs is a PrefsRepository for pages where storage is unavailable.
type DisabledPrefs struct{}

func (DisabledPrefs) Get(context.Context, string) (string, error) { return "", ErrStorageDisabled }

func (DisabledPrefs) Set(context.Context, string, string) error { return ErrStorageDisabled }

func (DisabledPrefs) Delete(context.Context, string) error { return ErrStorageDisabled }
