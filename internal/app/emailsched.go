package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stayflow/internal/adapters/observability"
	"stayflow/internal/domain"
)

// followupLead is the minimum gap between booking and check-in for the
// post-booking follow-up to make sense; closer bookings never get the row.
const followupLead = 72 * time.Hour

const sendHour = 10

type EmailScheduler struct {
	reservations domain.ReservationStore
	emails       domain.ScheduledEmailStore
	issues       domain.IssueReportStore
	sender       domain.NotificationSender
	loc          *time.Location
}

func NewEmailScheduler(
	reservations domain.ReservationStore,
	emails domain.ScheduledEmailStore,
	issues domain.IssueReportStore,
	sender domain.NotificationSender,
	loc *time.Location,
) *EmailScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &EmailScheduler{
		reservations: reservations,
		emails:       emails,
		issues:       issues,
		sender:       sender,
		loc:          loc,
	}
}

// sendTime puts a follow-up at 10:00 local on the day of the timestamp t.
func (s *EmailScheduler) sendTime(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), sendHour, 0, 0, 0, s.loc)
}

// sendTimeOnDate is sendTime for calendar dates. check_in and check_out are
// DATE columns that surface as midnight UTC; converting that instant into a
// timezone west of UTC lands on the previous local day, so the Y/M/D is read
// straight off the stored value instead.
func (s *EmailScheduler) sendTimeOnDate(d time.Time) time.Time {
	y, m, day := d.UTC().Date()
	return time.Date(y, m, day, sendHour, 0, 0, 0, s.loc)
}

// ScheduleForReservation persists the follow-up plan for a booking. Idempotent:
// the store refuses a second live row per (reservation, type), so calling this
// again, e.g. from a redelivered "confirmed" webhook, is a no-op.
func (s *EmailScheduler) ScheduleForReservation(ctx context.Context, r domain.Reservation) error {
	switch r.Status {
	case domain.StatusTentative, domain.StatusConfirmed:
	default:
		return nil
	}

	var errs []error

	// Guests arriving within the lead window would get the follow-up mid-stay;
	// for them it was never applicable, so no row at all.
	if r.CheckIn.Sub(r.CreatedAt) > followupLead {
		at := s.sendTime(r.CreatedAt.AddDate(0, 0, 3))
		if _, err := s.emails.CreateIfAbsent(ctx, r.ID, domain.EmailPostBookingFollowup, at); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", domain.EmailPostBookingFollowup, err))
		}
	}

	// Whether these should actually go out is only knowable near send time
	// (issue reports, cancellations), so the skip decision is deferred to Execute.
	if _, err := s.emails.CreateIfAbsent(ctx, r.ID, domain.EmailPostCheckin, s.sendTimeOnDate(r.CheckIn.AddDate(0, 0, 1))); err != nil {
		errs = append(errs, fmt.Errorf("schedule %s: %w", domain.EmailPostCheckin, err))
	}
	if _, err := s.emails.CreateIfAbsent(ctx, r.ID, domain.EmailPostCheckout, s.sendTimeOnDate(r.CheckOut.AddDate(0, 0, 1))); err != nil {
		errs = append(errs, fmt.Errorf("schedule %s: %w", domain.EmailPostCheckout, err))
	}
	return errors.Join(errs...)
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Execute runs one due row through the send-or-skip decision. Send failures
// are terminal: the row is marked failed and surfaced through metrics/logs,
// never retried, because a blind retry on a mail API risks duplicate sends.
func (s *EmailScheduler) Execute(ctx context.Context, e domain.ScheduledEmail) (Outcome, error) {
	// Re-fetch right before acting: a cancellation racing the due-batch read
	// is caught here.
	r, err := s.reservations.Get(ctx, e.ReservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.skip(ctx, e, "reservation missing")
		}
		return OutcomeFailed, err
	}

	switch r.Status {
	case domain.StatusCancelled, domain.StatusNoShow:
		return s.skip(ctx, e, "reservation "+string(r.Status))
	}

	if e.EmailType == domain.EmailPostCheckin || e.EmailType == domain.EmailPostCheckout {
		open, err := s.issues.HasOpen(ctx, r.ID)
		if err != nil {
			return OutcomeFailed, err
		}
		if open {
			// Guests who reported a problem should not get a
			// "how was your stay" prompt.
			return s.skip(ctx, e, "issue reported")
		}
	}

	if s.sender == nil {
		return OutcomeFailed, fmt.Errorf("%w: notification sender not configured", domain.ErrSendFailure)
	}

	// The row is claimed before the mail API is touched. Overlapping ticks,
	// the daemon racing an API-triggered run, both see the same due batch;
	// only the claim winner delivers, so the guest never gets two copies.
	won, err := s.emails.Claim(ctx, e.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !won {
		log.Info().Int64("email_id", e.ID).Msg("due email already claimed by a concurrent tick")
		return OutcomeSkipped, nil
	}

	providerID, err := s.sender.Send(ctx, renderMessage(e.EmailType, r))
	if err != nil {
		if _, merr := s.emails.MarkFailed(ctx, e.ID, err.Error()); merr != nil {
			return OutcomeFailed, merr
		}
		observability.ObserveEmail(string(e.EmailType), "failed")
		log.Error().Int64("email_id", e.ID).Int64("reservation_id", e.ReservationID).
			Str("type", string(e.EmailType)).Err(err).Msg("scheduled email send failed")
		return OutcomeFailed, nil
	}

	if _, err := s.emails.MarkSent(ctx, e.ID, providerID, time.Now().UTC()); err != nil {
		// The send went out; the row stays claimed without delivery details.
		log.Error().Int64("email_id", e.ID).Str("provider_message_id", providerID).
			Err(err).Msg("record email delivery failed")
	}
	observability.ObserveEmail(string(e.EmailType), "sent")
	return OutcomeSent, nil
}

func (s *EmailScheduler) skip(ctx context.Context, e domain.ScheduledEmail, reason string) (Outcome, error) {
	if _, err := s.emails.MarkSkipped(ctx, e.ID, reason); err != nil {
		return OutcomeFailed, err
	}
	observability.ObserveEmail(string(e.EmailType), "skipped")
	log.Info().Int64("email_id", e.ID).Int64("reservation_id", e.ReservationID).
		Str("type", string(e.EmailType)).Str("reason", reason).Msg("scheduled email skipped")
	return OutcomeSkipped, nil
}
