// Package xerrors defines the sentinel error taxonomy of §7: a small,
// closed set of error kinds every subsystem wraps its failures in, so
// callers can discriminate with errors.Is instead of string matching.
package xerrors

import "errors"

var (
	// ErrInvariantViolation: a mark's causality/link/schema invariant
	// failed. The action was not performed.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnstable: generated code failed stability analysis.
	ErrUnstable = errors.New("unstable")

	// ErrDenied: the trust gate denied an action.
	ErrDenied = errors.New("denied")

	// ErrConfirmRequired: a pending suggestion was created and awaits
	// human confirmation.
	ErrConfirmRequired = errors.New("confirm required")

	// ErrTimeout: sandbox execution exceeded its time budget.
	ErrTimeout = errors.New("timeout")

	// ErrBusy: backpressure; retryable without penalty.
	ErrBusy = errors.New("busy")

	// ErrCorruption: hash mismatch or missing expected artifact. Fatal
	// for the affected entity; never recovered locally.
	ErrCorruption = errors.New("corruption")

	// ErrProviderUnavailable: the external LLM or spec-report provider
	// is unreachable. Always recovered with a local fallback.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNotFound: requested id/path does not exist.
	ErrNotFound = errors.New("not found")
)
