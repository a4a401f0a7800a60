// Package errors consolidates error definitions for the bytelog library.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions matching the failure taxonomy
//   (discovery, resource, isolated persistence loss, contract violation)
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Discovery errors. Fatal for the reader instance that hit them;
	// never retried internally.
	ErrOnsetNotFound = errors.New("onset entry not found in archive")

	// Resource errors
	ErrArchiveNotFound = errors.New("archive file not found")
	ErrLogDirNotFound  = errors.New("log directory not found")

	// Lifecycle errors
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrStopped        = errors.New("stopped")

	// Contract violation errors
	ErrInvalidFrame = errors.New("invalid record frame")
	ErrInvalidKey   = errors.New("invalid entry key")
	ErrEmptyPayload = errors.New("empty payload")

	// Compaction errors
	ErrIntegrityCheck = errors.New("archive integrity check failed")

	// Shared buffer registry errors
	ErrBufferExists    = errors.New("shared buffer already exists")
	ErrBufferNotFound  = errors.New("shared buffer not found")
	ErrBufferDestroyed = errors.New("shared buffer destroyed")
	ErrIndexOutOfRange = errors.New("shared buffer index out of range")
	ErrNotConnected    = errors.New("not connected to shared buffer")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsDiscovery returns true if err is a discovery error.
func IsDiscovery(err error) bool {
	return errors.Is(err, ErrOnsetNotFound)
}

// IsResource returns true if err is a resource error.
func IsResource(err error) bool {
	return errors.Is(err, ErrArchiveNotFound) ||
		errors.Is(err, ErrLogDirNotFound)
}

// IsLifecycle returns true if err is a lifecycle state error.
func IsLifecycle(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrStopped)
}

// IsContract returns true if err is a caller contract violation.
func IsContract(err error) bool {
	return errors.Is(err, ErrInvalidFrame) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrEmptyPayload)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
