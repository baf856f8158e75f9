package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist or has
// been soft-deleted.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidState is returned when an operation is rejected by a status
// guard, e.g. mutating the plan of a COMPLETED decision.
var ErrInvalidState = errors.New("storage: invalid state")
