package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrExternalSync           = errors.New("external sync failed")
	ErrSendFailure            = errors.New("notification send failed")
	ErrPushInFlight           = errors.New("push already in flight")
)

// InvalidTransitionError keeps the offending edge for operator logs while
// still matching errors.Is(err, ErrInvalidTransition).
type InvalidTransitionError struct {
	From ReservationStatus
	To   ReservationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
