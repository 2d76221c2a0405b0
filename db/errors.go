package db

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("no rows in result set")

// ErrStoreUnavailable marks transient backend failures. Callers may retry.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrInvalidOperation is returned when a lifecycle transition is not
// permitted from the record's current state.
var ErrInvalidOperation = errors.New("invalid operation")

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unavailable wraps a backend error as ErrStoreUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
