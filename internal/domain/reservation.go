package domain

import (
	"fmt"
	"time"
)

type ReservationStatus string

const (
	StatusTentative  ReservationStatus = "tentative"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusCheckedIn  ReservationStatus = "checked_in"
	StatusCheckedOut ReservationStatus = "checked_out"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusNoShow     ReservationStatus = "no_show"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusTentative, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// SyncStatus tracks the external-channel mirror independently of the
// reservation status; the two axes never constrain each other.
type SyncStatus string

const (
	SyncNotSynced SyncStatus = "not_synced"
	SyncPushed    SyncStatus = "pushed"
	SyncConfirmed SyncStatus = "confirmed"
	SyncFailed    SyncStatus = "failed"
)

type Reservation struct {
	ID                 int64
	ConfirmationNumber string
	PropertyID         int64
	RoomID             int64
	GuestID            int64
	ChannelID          *int64
	GuestName          string
	GuestEmail         string
	CheckIn            time.Time // date, midnight UTC
	CheckOut           time.Time
	Adults             int
	Children           int
	BaseRate           int64 // minor currency units
	Taxes              int64
	Fees               int64
	Currency           string
	Status             ReservationStatus
	PaymentStatus      PaymentStatus
	SyncStatus         SyncStatus
	ExternalBookingID  *string
	ConfirmationSent   bool
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewReservation carries the caller-supplied fields of a booking before the
// store assigns identity, status and version.
type NewReservation struct {
	PropertyID int64
	RoomID     int64
	GuestID    int64
	ChannelID  *int64
	GuestName  string
	GuestEmail string
	CheckIn    time.Time
	CheckOut   time.Time
	Adults     int
	Children   int
	BaseRate   int64
	Taxes      int64
	Fees       int64
	Currency   string
}

func (n NewReservation) Validate() error {
	if n.PropertyID <= 0 {
		return fmt.Errorf("%w: property_id required", ErrValidation)
	}
	if n.RoomID <= 0 {
		return fmt.Errorf("%w: room_id required", ErrValidation)
	}
	if n.GuestEmail == "" {
		return fmt.Errorf("%w: guest_email required", ErrValidation)
	}
	if n.CheckIn.IsZero() || n.CheckOut.IsZero() {
		return fmt.Errorf("%w: check_in and check_out required", ErrValidation)
	}
	if !n.CheckOut.After(n.CheckIn) {
		return fmt.Errorf("%w: check_out must be after check_in", ErrValidation)
	}
	if n.Adults < 0 || n.Children < 0 {
		return fmt.Errorf("%w: occupancy counts must be non-negative", ErrValidation)
	}
	if n.BaseRate < 0 || n.Taxes < 0 || n.Fees < 0 {
		return fmt.Errorf("%w: monetary fields must be non-negative", ErrValidation)
	}
	if len(n.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	return nil
}
