package invoice

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("invoice is incomplete")
	ErrIndexOutOfRange  = errors.New("line item index out of range")
	ErrDraftNotReady    = errors.New("draft listings are still loading")
	ErrFinalizeInFlight = errors.New("draft is already being finalized")
	ErrDraftClosed      = errors.New("draft was already finalized")
)

// ValidationError names the header or cart field that blocks assembly.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a store failure during finalize. The draft is
// left untouched so the user can retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "invoice could not be saved: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
