package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrStaleCursor is returned when an atomic append finds the discussion
// row no longer running or its cursor moved since the caller read it.
// Under the orchestrator's per-discussion guard this indicates a
// concurrent writer that should not exist; the loop treats it as fatal.
var ErrStaleCursor = errors.New("storage: discussion cursor moved or state changed")

// ErrInvalidTransition is returned when a conditional state transition
// finds the discussion in none of the permitted source states. The
// accompanying Discussion value carries the current state.
var ErrInvalidTransition = errors.New("storage: state transition not permitted")
