// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// settlement engine and handlers to distinguish between failure
// scenarios. ErrSeatOccupied in particular is the deterministic conflict
// signal of the seat transition primitive: it means the guarded update
// matched a row but the guard did not hold, which is an expected outcome
// under contention and must never be folded into a generic error.
package repository

import "errors"

// ErrSeatNotFound is returned when a seat number falls outside the
// configured universe or a lookup yields no row. Handlers should
// translate this into an HTTP 404 response.
var ErrSeatNotFound = errors.New("seat not found")

// ErrSeatOccupied is returned when a seat transition is rejected because
// the seat is actively held by a different party (or the expected owner
// guard failed). This is a conflict, not an error condition: exactly one
// of several racing transitions wins and the rest receive this value.
var ErrSeatOccupied = errors.New("seat occupied by someone else")

// ErrAttemptNotFound is returned when no payment attempt exists for the
// given order id. Handlers should translate this into an HTTP 404.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// ErrAttemptSettled is returned when a state transition is requested on a
// payment attempt that has already left the Pending state. Callers use
// it to detect the idempotency boundary and re-read the terminal record.
var ErrAttemptSettled = errors.New("payment attempt already settled")

// ErrAccountNotFound is returned when no member account summary exists
// for the given member id.
var ErrAccountNotFound = errors.New("member account not found")
