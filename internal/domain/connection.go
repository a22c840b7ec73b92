package domain

import "time"

// ExternalConnection links one property to its channel manager account.
// At most one active+connected row exists per property.
type ExternalConnection struct {
	ID                      int64
	PropertyID              int64
	ExternalAccommodationID string
	IsActive                bool
	IsConnected             bool
}

func (c ExternalConnection) Usable() bool { return c.IsActive && c.IsConnected }

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// IssueReport is owned by the surrounding platform; this core only reads it
// to dampen post-stay outreach.
type IssueReport struct {
	ID            int64
	ReservationID int64
	Status        IssueStatus
	Subject       string
	CreatedAt     time.Time
}
