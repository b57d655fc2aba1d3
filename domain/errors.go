package domain

import "errors"

// ErrNotFound reports an operation against a board, list or card that does
// not exist (or was deleted concurrently).
var ErrNotFound = errors.New("not found")

// ErrForbidden reports an action the actor's capabilities do not allow.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports a malformed payload. The request is rejected
// without any partial write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError with the given message.
func NewValidationError(msg string) error { return &ValidationError{Msg: msg} }
