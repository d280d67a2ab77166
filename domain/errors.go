package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)
	ErrListNotFound = fmt.Errorf("list %w", ErrNotFound)

	// ErrConcurrencyConflict indicates that the store rejected a batch because
	// a document changed after it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrBatchTooLarge is returned when a batch exceeds the store's
	// transaction limit.
	ErrBatchTooLarge = errors.New("batch exceeds transaction limit")

	ErrInvalidOrder = errors.New("order must be a non-negative integer")
)
