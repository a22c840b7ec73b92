package domain

// TransitionOrigin distinguishes locally-driven changes from inbound channel
// manager events; webhook origin gets idempotent no-op handling for duplicate
// deliveries.
type TransitionOrigin string

const (
	OriginInternal TransitionOrigin = "internal"
	OriginWebhook  TransitionOrigin = "external_webhook"
)

// transitions is the single source of truth for legal status edges. Anything
// not listed here is rejected.
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusTentative:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusCheckedOut},
	StatusCheckedOut: nil,
	StatusCancelled:  nil,
	StatusNoShow:     nil,
}

func Terminal(s ReservationStatus) bool {
	switch s {
	case StatusCheckedOut, StatusCancelled, StatusNoShow:
		return true
	case StatusTentative, StatusConfirmed, StatusCheckedIn:
		return false
	}
	return false
}

func CanTransition(from, to ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates an edge for the given origin.
// Same-state "transitions" are rejected for internal callers but reported as
// idempotent no-ops for webhook deliveries, so an at-least-once provider can
// redeliver "confirmed" without tripping an error.
func CheckTransition(from, to ReservationStatus, origin TransitionOrigin) (noop bool, err error) {
	if !to.Valid() {
		return false, &InvalidTransitionError{From: from, To: to}
	}
	if from == to {
		if origin == OriginWebhook {
			return true, nil
		}
		return false, &InvalidTransitionError{From: from, To: to}
	}
	if !CanTransition(from, to) {
		return false, &InvalidTransitionError{From: from, To: to}
	}
	return false, nil
}
