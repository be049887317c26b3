package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every structured error below matches exactly one kind with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("booking conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleState        = errors.New("stale booking state")
	ErrNotFound          = errors.New("not found")
)

// Validation reasons
var (
	ErrInvalidInterval  = errors.New("start must be before end")
	ErrLeadTimeTooShort = errors.New("start is too soon")
	ErrNegativePrice    = errors.New("total price cannot be negative")
	ErrInvalidRenterID  = errors.New("invalid renter id")
	ErrInvalidCarID     = errors.New("invalid car id")
	ErrInvalidBookingID = errors.New("invalid booking id")
	ErrInvalidStatus    = errors.New("invalid booking status")
	ErrCarUnavailable   = errors.New("car is not available for booking")
)

// ValidationError rejects a malformed request
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError names the live booking interval that blocks a request
type ConflictError struct {
	CarID     string
	BookingID string
	Interval  Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("car %s is already booked for %s", e.CarID, e.Interval)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransitionError is returned for an edge outside the lifecycle
type TransitionError struct {
	From BookingStatus
	To   BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition booking from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StaleStateError is returned when a compare-and-swap finds another status
type StaleStateError struct {
	BookingID string
	Expected  BookingStatus
	Actual    BookingStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("booking %s is %s, expected %s", e.BookingID, e.Actual, e.Expected)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func IsValidationError(err error) bool { return errors.Is(err, ErrValidation) }

func IsConflictError(err error) bool { return errors.Is(err, ErrConflict) }

func IsInvalidTransitionError(err error) bool { return errors.Is(err, ErrInvalidTransition) }

func IsStaleStateError(err error) bool { return errors.Is(err, ErrStaleState) }

func IsNotFoundError(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDomainError reports whether err is one of the kinds above. Anything else
// is an infrastructure failure.
func IsDomainError(err error) bool {
	return IsValidationError(err) || IsConflictError(err) || IsInvalidTransitionError(err) ||
		IsStaleStateError(err) || IsNotFoundError(err)
}
