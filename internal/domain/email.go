package domain

import "time"

type EmailType string

const (
	EmailPostBookingFollowup EmailType = "post_booking_followup"
	EmailPostCheckin         EmailType = "post_checkin"
	EmailPostCheckout        EmailType = "post_checkout"
)

func (t EmailType) Valid() bool {
	switch t {
	case EmailPostBookingFollowup, EmailPostCheckin, EmailPostCheckout:
		return true
	}
	return false
}

type EmailStatus string

const (
	EmailScheduled EmailStatus = "scheduled"
	EmailSent      EmailStatus = "sent"
	EmailSkipped   EmailStatus = "skipped"
	EmailFailed    EmailStatus = "failed"
)

// ScheduledEmail is one planned follow-up communication. Rows are an audit
// trail: they move to sent/skipped/failed and are never deleted.
type ScheduledEmail struct {
	ID                int64
	ReservationID     int64
	EmailType         EmailType
	ScheduledAt       time.Time
	Status            EmailStatus
	SkipReason        *string
	ErrorMessage      *string
	ProviderMessageID *string
	SentAt            *time.Time
	CreatedAt         time.Time
}
