package domain

import "errors"

// Sentinel errors shared by repositories and the workflow layer. Wrap them
// with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
