// Package errors provides error handling for opraflow.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints surfaced to the operator on pre-flight failures
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
//	if errors.Is(err, errors.ErrIntegrity) {
//	    // handle digest/size mismatch
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
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Join aggregates independently evaluated failures into one error; the
// readiness gate uses it to report every failing check at once.
var Join = crdb.Join

// Sentinel errors for the pipeline's failure taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrReadiness indicates one or more pre-flight checks failed.
	// Always fatal to the whole run; raised before any item is touched.
	ErrReadiness = New("readiness check failed")

	// ErrIntegrity indicates a digest or size mismatch.
	// Fatal to the single item, never retried and never silently ignored.
	ErrIntegrity = New("integrity check failed")

	// ErrTransfer indicates an upload exhausted all retry attempts.
	ErrTransfer = New("transfer failed")

	// ErrLedgerCorrupt indicates the durable ledger document is unparseable.
	// Fatal at the readiness gate; never auto-repaired.
	ErrLedgerCorrupt = New("ledger document corrupt")

	// ErrNotFound indicates the requested remote object does not exist
	ErrNotFound = New("not found")
)

// IsIntegrity checks if an error is or wraps ErrIntegrity.
func IsIntegrity(err error) bool {
	return err != nil && Is(err, ErrIntegrity)
}

// IsTransfer checks if an error is or wraps ErrTransfer.
func IsTransfer(err error) bool {
	return err != nil && Is(err, ErrTransfer)
}

// IsReadiness checks if an error is or wraps ErrReadiness.
func IsReadiness(err error) bool {
	return err != nil && Is(err, ErrReadiness)
}

// IsLedgerCorrupt checks if an error is or wraps ErrLedgerCorrupt.
func IsLedgerCorrupt(err error) bool {
	return err != nil && Is(err, ErrLedgerCorrupt)
}

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
