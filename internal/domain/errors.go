// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested agent does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed construction input (empty label,
// negative token delta, unknown enum value).
var ErrValidation = errors.New("validation failed")

// ErrOutOfOrder indicates an event older than the stored agent state.
// Stale writes are superseded, not applied; callers log and count them.
var ErrOutOfOrder = errors.New("event out of order")

// ErrTerminated indicates an event targeting an agent in the terminal
// terminated state. Treated as a no-op with a warning, never applied.
var ErrTerminated = errors.New("agent terminated")

// ErrRejected indicates an event that failed signature verification or
// payload validation. Rejected events are never applied; every rejection
// is surfaced to the caller and counted.
var ErrRejected = errors.New("event rejected")

// ErrStoreUnavailable indicates the shared state store cannot be reached.
// The adapter never retries; retry policy belongs to the orchestrator.
var ErrStoreUnavailable = errors.New("state store unavailable")
