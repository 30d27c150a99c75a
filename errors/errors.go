// Package errors provides error handling for Veridict.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrSlotExpired) {
//	    // re-claim the slot
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Marking and assertions
var (
	Mark             = crdb.Mark
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the pipeline error taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested claim or slot does not exist
	ErrNotFound = New("not found")

	// ErrConflictingVersion indicates an optimistic-concurrency write lost the
	// race; callers should reload the claim and retry
	ErrConflictingVersion = New("conflicting version")

	// ErrCapacityExceeded indicates the stage's concurrent-worker cap is full
	ErrCapacityExceeded = New("capacity exceeded")

	// ErrAlreadyHeld indicates the worker already holds a live slot for this
	// claim and stage
	ErrAlreadyHeld = New("slot already held")

	// ErrSlotExpired indicates the slot's heartbeat deadline has passed; the
	// worker must re-claim a slot before continuing
	ErrSlotExpired = New("slot expired")

	// ErrUnauthorizedSubmission indicates evidence was submitted without a
	// live (or recently expired, within grace) slot
	ErrUnauthorizedSubmission = New("unauthorized submission")

	// ErrInvalidPayload indicates a claim submission with an unusable payload
	ErrInvalidPayload = New("invalid payload")

	// ErrStoreUnavailable indicates the claim store cannot be reached; the
	// current tick should be abandoned and retried at the next interval
	ErrStoreUnavailable = New("store unavailable")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflictingVersion.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflictingVersion)
}

// IsRetryableClaim reports whether a slot claim failure is routine capacity
// contention the caller should retry with backoff, rather than a fault.
func IsRetryableClaim(err error) bool {
	return err != nil && (Is(err, ErrCapacityExceeded) || Is(err, ErrAlreadyHeld))
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
