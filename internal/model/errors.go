package model

import "errors"

// Error kinds shared by the stores and services. Wrap them with %w and test
// with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrPersistence         = errors.New("persistence unavailable")
	ErrModelInvocation     = errors.New("model invocation failed")
)
