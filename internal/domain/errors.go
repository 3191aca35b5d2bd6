package domain

import (
	"errors"
	"fmt"
	"strings"

	"castlebook/internal/models"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrConflict               = errors.New("castle already booked for the requested window")
	ErrReferenceAllocation    = errors.New("could not allocate a booking reference, please try again")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrNotFound               = errors.New("not found")
	ErrPersistence            = errors.New("storage unavailable, please try again later")
	ErrConcurrentModification = errors.New("booking was modified concurrently, refresh and retry")
	ErrForbidden              = errors.New("not permitted for this caller")
)

// ValidationError points at the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError carries the checker result so callers can show what is in the way.
type ConflictError struct {
	Result *models.ConflictResult
}

func (e *ConflictError) Error() string {
	if e.Result == nil || len(e.Result.Conflicts) == 0 {
		return ErrConflict.Error()
	}
	reasons := make([]string, 0, len(e.Result.Conflicts))
	for _, c := range e.Result.Conflicts {
		reasons = append(reasons, c.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), strings.Join(reasons, "; "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceError wraps a store or connection failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
