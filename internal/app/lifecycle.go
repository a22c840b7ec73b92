package app

import (
	"context"
	crand "crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stayflow/internal/adapters/observability"
	"stayflow/internal/domain"
)

// LifecycleService owns every reservation status change; nothing else writes
// the status column.
type LifecycleService struct {
	reservations domain.ReservationStore
	emails       domain.ScheduledEmailStore
	scheduler    *EmailScheduler
	sender       domain.NotificationSender
	events       domain.EventPublisher // optional
}

func NewLifecycleService(
	reservations domain.ReservationStore,
	emails domain.ScheduledEmailStore,
	scheduler *EmailScheduler,
	sender domain.NotificationSender,
	events domain.EventPublisher,
) *LifecycleService {
	return &LifecycleService{
		reservations: reservations,
		emails:       emails,
		scheduler:    scheduler,
		sender:       sender,
		events:       events,
	}
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func newConfirmationNumber() string {
	var b [5]byte
	if _, err := crand.Read(b[:]); err != nil {
		return fmt.Sprintf("SF-%d", time.Now().UnixNano())
	}
	return "SF-" + b32.EncodeToString(b[:])
}

func (s *LifecycleService) Create(ctx context.Context, n domain.NewReservation) (domain.Reservation, error) {
	if err := n.Validate(); err != nil {
		return domain.Reservation{}, err
	}
	r, err := s.reservations.Insert(ctx, n, newConfirmationNumber())
	if err != nil {
		return domain.Reservation{}, err
	}
	log.Info().Int64("reservation_id", r.ID).Str("confirmation", r.ConfirmationNumber).
		Int64("property_id", r.PropertyID).Msg("reservation created")
	return r, nil
}

func (s *LifecycleService) Get(ctx context.Context, id int64) (domain.Reservation, error) {
	return s.reservations.Get(ctx, id)
}

func (s *LifecycleService) ListEmails(ctx context.Context, reservationID int64) ([]domain.ScheduledEmail, error) {
	return s.emails.ListByReservation(ctx, reservationID)
}

// Transition validates the edge, applies it under optimistic concurrency and
// runs the side effects of the new status. A lost version race returns
// ErrConcurrentModification; the caller re-reads and retries.
//
// Side effects are deliberately not transactional with the status write:
// the status change is authoritative, scheduling and notifications are
// best-effort and logged when they fail.
func (s *LifecycleService) Transition(ctx context.Context, id int64, target domain.ReservationStatus, origin domain.TransitionOrigin) (domain.Reservation, error) {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}

	noop, err := domain.CheckTransition(r.Status, target, origin)
	if err != nil {
		return domain.Reservation{}, err
	}
	if noop {
		// Duplicate webhook delivery; nothing to apply, no side effects.
		observability.ObserveTransition(string(r.Status), string(target), "noop")
		return r, nil
	}

	if err := s.reservations.UpdateStatus(ctx, id, r.Version, target); err != nil {
		observability.ObserveTransition(string(r.Status), string(target), "conflict")
		return domain.Reservation{}, err
	}
	from := r.Status
	r.Status = target
	r.Version++
	observability.ObserveTransition(string(from), string(target), "applied")
	log.Info().Int64("reservation_id", id).Str("from", string(from)).Str("to", string(target)).
		Str("origin", string(origin)).Msg("reservation transition")

	s.publish(ctx, r)

	switch target {
	case domain.StatusConfirmed:
		s.onConfirmed(ctx, r)
	case domain.StatusCancelled, domain.StatusNoShow:
		s.onDropped(ctx, r)
	}
	return r, nil
}

func (s *LifecycleService) onConfirmed(ctx context.Context, r domain.Reservation) {
	// Scheduling is best-effort relative to the authoritative status change:
	// a store failure here is alerted on, never rolled back into the transition.
	if err := s.scheduler.ScheduleForReservation(ctx, r); err != nil {
		log.Error().Int64("reservation_id", r.ID).Err(err).Msg("follow-up scheduling failed")
	}

	if s.sender != nil && !r.ConfirmationSent {
		if _, err := s.sender.Send(ctx, confirmationMessage(r)); err != nil {
			log.Error().Int64("reservation_id", r.ID).Err(err).Msg("confirmation email failed")
			return
		}
		if err := s.reservations.SetConfirmationSent(ctx, r.ID); err != nil {
			log.Error().Int64("reservation_id", r.ID).Err(err).Msg("mark confirmation_sent failed")
		}
	}
}

func (s *LifecycleService) onDropped(ctx context.Context, r domain.Reservation) {
	n, err := s.emails.CancelScheduled(ctx, r.ID, "reservation "+string(r.Status))
	if err != nil {
		log.Error().Int64("reservation_id", r.ID).Err(err).Msg("cancel scheduled emails failed")
		return
	}
	if n > 0 {
		log.Info().Int64("reservation_id", r.ID).Int64("cancelled", n).Msg("scheduled emails cancelled")
	}
}

func (s *LifecycleService) publish(ctx context.Context, r domain.Reservation) {
	if s.events == nil {
		return
	}
	ev := domain.ReservationEvent{
		Event:         "reservation." + string(r.Status),
		ReservationID: r.ID,
		Status:        r.Status,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn().Int64("reservation_id", r.ID).Err(err).Msg("event publish failed")
	}
}

// transitionWithRetry absorbs CAS races for callers that cannot hand the
// conflict back, notably the webhook path where a human admin and the channel
// manager can race on the same reservation.
func (s *LifecycleService) transitionWithRetry(ctx context.Context, id int64, target domain.ReservationStatus, origin domain.TransitionOrigin, attempts int) (domain.Reservation, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		r, err := s.Transition(ctx, id, target, origin)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.Reservation{}, err
		}
		lastErr = err
	}
	return domain.Reservation{}, lastErr
}
