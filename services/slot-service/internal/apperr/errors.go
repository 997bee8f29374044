// Package apperr holds the error kinds the slot service distinguishes at its
// edges. Callers match with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ExternalServiceError means the authoritative booking platform could not be
// read: unreachable, non-2xx, undecodable, or retries exhausted.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("external service %s: status %d after %d attempt(s): %v", e.Op, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("external service %s: after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func IsExternal(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}
