package platform

import "errors"

// Capability reports whether an optional platform feature can be used.
type Capability string

const (
	CapabilityPresent Capability = "present"
	CapabilityAbsent  Capability = "absent"
	// CapabilityFailed means the feature exists but could not be set up,
	// e.g. worker registration was rejected. Treated like absent.
	CapabilityFailed Capability = "failed"
)

// Usable returns true if the feature can be used.
func (c Capability) Usable() bool {
	return c == CapabilityPresent
}

var (
	// ErrCapabilityAbsent is returned when a platform feature is missing.
	ErrCapabilityAbsent = errors.New("platform capability absent")

	// ErrActionUnavailable is returned when an action has no live handle or worker.
	ErrActionUnavailable = errors.New("action unavailable")

	// ErrRegistrationFailure is returned when worker registration is rejected.
	ErrRegistrationFailure = errors.New("worker registration failed")

	// ErrPersistenceFailure is returned when a storage read or write fails.
	ErrPersistenceFailure = errors.New("persistence failure")
)
