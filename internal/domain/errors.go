package domain

import "errors"

var (
	ErrNotFound   = errors.New("resource not found")
	ErrInvalidJob = errors.New("invalid job")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
