// Package api exposes the lifecycle coordinator as MCP tools and resources.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
)

// Error codes
const (
	ErrUnavailable       = "UNAVAILABLE"
	ErrPersistenceFailed = "PERSISTENCE_FAILURE"
	ErrStorageDisabled   = "STORAGE_DISABLED"
	ErrNotFound          = "NOT_FOUND"
	ErrInvalidInput      = "INVALID_INPUT"
	ErrInternal          = "INTERNAL_ERROR"
)

// MCPError represents a structured error for MCP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewUnavailableError creates an error for an action with no live handle or worker.
func NewUnavailableError(action string) *MCPError {
	return &MCPError{
		Code:    ErrUnavailable,
		Message: fmt.Sprintf("Action unavailable: %s", action),
		Retry:   false,
	}
}

// NewPersistenceError creates an error for a failed storage read or write.
func NewPersistenceError(err error) *MCPError {
	return &MCPError{
		Code:    ErrPersistenceFailed,
		Message: fmt.Sprintf("Storage failed: %s", err.Error()),
		Retry:   true,
	}
}

// NewStorageDisabledError creates an error for reads against disabled storage.
func NewStorageDisabledError(what string) *MCPError {
	return &MCPError{
		Code:    ErrStorageDisabled,
		Message: fmt.Sprintf("Storage disabled: %s", what),
		Retry:   false,
	}
}

// NewNotFoundError creates an error for not found resources.
func NewNotFoundError(resource string) *MCPError {
	return &MCPError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("Resource not found: %s", resource),
		Retry:   false,
	}
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidInput,
		Message: message,
		Retry:   false,
	}
}

// NewInternalError creates an error for internal errors.
func NewInternalError(err error) *MCPError {
	return &MCPError{
		Code:    ErrInternal,
		Message: fmt.Sprintf("Internal error: %s", err.Error()),
		Retry:   false,
	}
}

// classify maps a lifecycle error onto a structured error.
func classify(action string, err error) *MCPError {
	switch {
	case errors.Is(err, platform.ErrActionUnavailable), errors.Is(err, platform.ErrCapabilityAbsent):
		return NewUnavailableError(action)
	case errors.Is(err, store.ErrStorageDisabled):
		return NewStorageDisabledError(action)
	case errors.Is(err, platform.ErrPersistenceFailure):
		return NewPersistenceError(err)
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError(action)
	default:
		return NewInternalError(err)
	}
}
