package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an optimistic-lock update loses the
	// race: the row changed since it was read.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrDuplicateWorkflow is returned when creating a workflow for an
	// order that already has a non-terminal one.
	ErrDuplicateWorkflow = errors.New("order already has an active workflow")
)
