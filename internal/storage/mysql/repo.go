package mysql

import (
	"context"
	"database/sql"
	"time"

	"stayflow/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- reservations ----

func (r *Repo) Insert(ctx context.Context, n domain.NewReservation, confirmationNumber string) (domain.Reservation, error) {
	res, err := r.db.ExecContext(ctx, insertReservationSQL,
		confirmationNumber,
		n.PropertyID,
		n.RoomID,
		n.GuestID,
		valInt64(n.ChannelID),
		n.GuestName,
		n.GuestEmail,
		n.CheckIn,
		n.CheckOut,
		n.Adults,
		n.Children,
		n.BaseRate,
		n.Taxes,
		n.Fees,
		n.Currency,
	)
	if err != nil {
		return domain.Reservation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Reservation{}, err
	}
	return r.Get(ctx, id)
}

func (r *Repo) Get(ctx context.Context, id int64) (domain.Reservation, error) {
	return scanReservation(r.db.QueryRowContext(ctx, getReservationSQL, id))
}

func (r *Repo) GetByExternalBookingID(ctx context.Context, externalID string) (domain.Reservation, error) {
	return scanReservation(r.db.QueryRowContext(ctx, getReservationByExternalSQL, externalID))
}

func scanReservation(row *sql.Row) (domain.Reservation, error) {
	var rv domain.Reservation
	var channelID sql.NullInt64
	var externalBookingID sql.NullString
	if err := row.Scan(
		&rv.ID,
		&rv.ConfirmationNumber,
		&rv.PropertyID,
		&rv.RoomID,
		&rv.GuestID,
		&channelID,
		&rv.GuestName,
		&rv.GuestEmail,
		&rv.CheckIn,
		&rv.CheckOut,
		&rv.Adults,
		&rv.Children,
		&rv.BaseRate,
		&rv.Taxes,
		&rv.Fees,
		&rv.Currency,
		&rv.Status,
		&rv.PaymentStatus,
		&rv.SyncStatus,
		&externalBookingID,
		&rv.ConfirmationSent,
		&rv.Version,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	if channelID.Valid {
		v := channelID.Int64
		rv.ChannelID = &v
	}
	if externalBookingID.Valid {
		s := externalBookingID.String
		rv.ExternalBookingID = &s
	}
	return rv, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id int64, version int64, to domain.ReservationStatus) error {
	res, err := r.db.ExecContext(ctx, updateReservationStatusSQL, string(to), id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or another writer bumped the version first.
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return gerr
		}
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *Repo) SetSyncStatus(ctx context.Context, id int64, s domain.SyncStatus, externalBookingID *string) error {
	_, err := r.db.ExecContext(ctx, setSyncStatusSQL, string(s), valStr(externalBookingID), id)
	return err
}

func (r *Repo) SetConfirmationSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, setConfirmationSentSQL, id)
	return err
}

// ---- scheduled emails ----

func (r *Repo) CreateIfAbsent(ctx context.Context, reservationID int64, t domain.EmailType, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, insertScheduledEmailSQL, reservationID, string(t), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) GetEmail(ctx context.Context, id int64) (domain.ScheduledEmail, error) {
	rows, err := r.db.QueryContext(ctx, getScheduledEmailSQL, id)
	if err != nil {
		return domain.ScheduledEmail{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ScheduledEmail{}, err
		}
		return domain.ScheduledEmail{}, domain.ErrNotFound
	}
	return scanEmail(rows)
}

func (r *Repo) ListByReservation(ctx context.Context, reservationID int64) ([]domain.ScheduledEmail, error) {
	return r.queryEmails(ctx, listEmailsByReservationSQL, reservationID)
}

func (r *Repo) DueBefore(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledEmail, error) {
	return r.queryEmails(ctx, dueEmailsSQL, now, limit)
}

func (r *Repo) queryEmails(ctx context.Context, q string, args ...any) ([]domain.ScheduledEmail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmail(rows *sql.Rows) (domain.ScheduledEmail, error) {
	var e domain.ScheduledEmail
	var skipReason, errMsg, providerID sql.NullString
	var sentAt sql.NullTime
	if err := rows.Scan(
		&e.ID,
		&e.ReservationID,
		&e.EmailType,
		&e.ScheduledAt,
		&e.Status,
		&skipReason,
		&errMsg,
		&providerID,
		&sentAt,
		&e.CreatedAt,
	); err != nil {
		return domain.ScheduledEmail{}, err
	}
	if skipReason.Valid {
		s := skipReason.String
		e.SkipReason = &s
	}
	if errMsg.Valid {
		s := errMsg.String
		e.ErrorMessage = &s
	}
	if providerID.Valid {
		s := providerID.String
		e.ProviderMessageID = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return e, nil
}

func (r *Repo) markEmail(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) Claim(ctx context.Context, id int64) (bool, error) {
	return r.markEmail(ctx, claimEmailSQL, id)
}

func (r *Repo) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error) {
	return r.markEmail(ctx, recordEmailDeliverySQL, providerMessageID, at, id)
}

func (r *Repo) MarkSkipped(ctx context.Context, id int64, reason string) (bool, error) {
	return r.markEmail(ctx, markEmailSkippedSQL, reason, id)
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error) {
	return r.markEmail(ctx, markEmailFailedSQL, errMsg, id)
}

func (r *Repo) CancelScheduled(ctx context.Context, reservationID int64, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, cancelScheduledEmailsSQL, reason, reservationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- external connections ----

func (r *Repo) ActiveByProperty(ctx context.Context, propertyID int64) (domain.ExternalConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx, activeConnectionByPropertySQL, propertyID))
}

func (r *Repo) ByAccommodationID(ctx context.Context, accommodationID string) (domain.ExternalConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx, connectionByAccommodationSQL, accommodationID))
}

func scanConnection(row *sql.Row) (domain.ExternalConnection, error) {
	var c domain.ExternalConnection
	if err := row.Scan(&c.ID, &c.PropertyID, &c.ExternalAccommodationID, &c.IsActive, &c.IsConnected); err != nil {
		if err == sql.ErrNoRows {
			return domain.ExternalConnection{}, domain.ErrNotFound
		}
		return domain.ExternalConnection{}, err
	}
	return c, nil
}

// ---- issue reports ----

func (r *Repo) HasOpen(ctx context.Context, reservationID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, hasOpenIssueSQL, reservationID).Scan(&exists)
	return exists, err
}
