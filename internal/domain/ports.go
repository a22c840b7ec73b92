package domain

import (
	"context"
	"time"
)

type ReservationStore interface {
	// Write paths
	Insert(ctx context.Context, n NewReservation, confirmationNumber string) (Reservation, error)
	UpdateStatus(ctx context.Context, id int64, version int64, to ReservationStatus) error
	SetSyncStatus(ctx context.Context, id int64, s SyncStatus, externalBookingID *string) error
	SetConfirmationSent(ctx context.Context, id int64) error

	// Read paths
	Get(ctx context.Context, id int64) (Reservation, error)
	GetByExternalBookingID(ctx context.Context, externalID string) (Reservation, error)
}

type ScheduledEmailStore interface {
	// CreateIfAbsent inserts a scheduled row unless a live one already exists
	// for the (reservation, type) pair; reports whether a row was created.
	CreateIfAbsent(ctx context.Context, reservationID int64, t EmailType, at time.Time) (bool, error)
	GetEmail(ctx context.Context, id int64) (ScheduledEmail, error)
	ListByReservation(ctx context.Context, reservationID int64) ([]ScheduledEmail, error)
	DueBefore(ctx context.Context, now time.Time, limit int) ([]ScheduledEmail, error)

	// Claim flips a scheduled row to sent before delivery; exactly one of
	// several concurrent runners wins, the rest see false and skip sending.
	Claim(ctx context.Context, id int64) (bool, error)

	// MarkSent records delivery details on a claimed row. MarkSkipped and
	// MarkFailed report whether they won; a lost race means another tick
	// handled the row.
	MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error)
	MarkSkipped(ctx context.Context, id int64, reason string) (bool, error)
	MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error)
	CancelScheduled(ctx context.Context, reservationID int64, reason string) (int64, error)
}

type ConnectionStore interface {
	ActiveByProperty(ctx context.Context, propertyID int64) (ExternalConnection, error)
	ByAccommodationID(ctx context.Context, accommodationID string) (ExternalConnection, error)
}

type IssueReportStore interface {
	HasOpen(ctx context.Context, reservationID int64) (bool, error)
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type NotificationSender interface {
	Send(ctx context.Context, m Message) (providerMessageID string, err error)
}

type ChannelClient interface {
	CreateBooking(ctx context.Context, accommodationID string, r Reservation) (externalBookingID string, err error)
	Ping(ctx context.Context) error
}

// Locker is a short-TTL advisory lease, used to keep a single push in flight
// per reservation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Deduper remembers identifiers for a TTL window; FirstSeen reports whether
// the id was new.
type Deduper interface {
	FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type ReservationEvent struct {
	Event         string            `json:"event"`
	ReservationID int64             `json:"reservation_id"`
	Status        ReservationStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev ReservationEvent) error
}
