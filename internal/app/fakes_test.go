package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stayflow/internal/domain"
)

// fakeStore is an in-memory stand-in for the MySQL repo; it implements all
// four store ports with the same semantics (CAS on version, one live
// scheduled row per (reservation, type)).
type fakeStore struct {
	mu sync.Mutex

	reservations map[int64]domain.Reservation
	nextResID    int64

	emails      map[int64]*domain.ScheduledEmail
	nextEmailID int64

	connections []domain.ExternalConnection
	openIssues  map[int64]bool

	conflictN   int   // force the next N UpdateStatus calls to conflict
	scheduleErr error // injected CreateIfAbsent failure
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reservations: map[int64]domain.Reservation{},
		emails:       map[int64]*domain.ScheduledEmail{},
		openIssues:   map[int64]bool{},
	}
}

func (f *fakeStore) addReservation(r domain.Reservation) domain.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextResID++
	r.ID = f.nextResID
	if r.Version == 0 {
		r.Version = 1
	}
	if r.Status == "" {
		r.Status = domain.StatusTentative
	}
	if r.SyncStatus == "" {
		r.SyncStatus = domain.SyncNotSynced
	}
	f.reservations[r.ID] = r
	return r
}

func (f *fakeStore) Insert(ctx context.Context, n domain.NewReservation, confirmationNumber string) (domain.Reservation, error) {
	return f.addReservation(domain.Reservation{
		ConfirmationNumber: confirmationNumber,
		PropertyID:         n.PropertyID,
		RoomID:             n.RoomID,
		GuestID:            n.GuestID,
		ChannelID:          n.ChannelID,
		GuestName:          n.GuestName,
		GuestEmail:         n.GuestEmail,
		CheckIn:            n.CheckIn,
		CheckOut:           n.CheckOut,
		Adults:             n.Adults,
		Children:           n.Children,
		BaseRate:           n.BaseRate,
		Taxes:              n.Taxes,
		Fees:               n.Fees,
		Currency:           n.Currency,
		Status:             domain.StatusTentative,
		PaymentStatus:      domain.PaymentPending,
		SyncStatus:         domain.SyncNotSynced,
		CreatedAt:          time.Now().UTC(),
	}), nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetByExternalBookingID(ctx context.Context, externalID string) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.ExternalBookingID != nil && *r.ExternalBookingID == externalID {
			return r, nil
		}
	}
	return domain.Reservation{}, domain.ErrNotFound
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id int64, version int64, to domain.ReservationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictN > 0 {
		f.conflictN--
		return domain.ErrConcurrentModification
	}
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Version != version {
		return domain.ErrConcurrentModification
	}
	r.Status = to
	r.Version++
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) SetSyncStatus(ctx context.Context, id int64, s domain.SyncStatus, externalBookingID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.SyncStatus = s
	if externalBookingID != nil {
		r.ExternalBookingID = externalBookingID
	}
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) SetConfirmationSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.ConfirmationSent = true
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) CreateIfAbsent(ctx context.Context, reservationID int64, t domain.EmailType, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return false, f.scheduleErr
	}
	for _, e := range f.emails {
		if e.ReservationID == reservationID && e.EmailType == t && e.Status == domain.EmailScheduled {
			return false, nil
		}
	}
	f.nextEmailID++
	f.emails[f.nextEmailID] = &domain.ScheduledEmail{
		ID:            f.nextEmailID,
		ReservationID: reservationID,
		EmailType:     t,
		ScheduledAt:   at,
		Status:        domain.EmailScheduled,
		CreatedAt:     time.Now().UTC(),
	}
	return true, nil
}

func (f *fakeStore) GetEmail(ctx context.Context, id int64) (domain.ScheduledEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok {
		return domain.ScheduledEmail{}, domain.ErrNotFound
	}
	return *e, nil
}

func (f *fakeStore) ListByReservation(ctx context.Context, reservationID int64) ([]domain.ScheduledEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledEmail
	for id := int64(1); id <= f.nextEmailID; id++ {
		if e, ok := f.emails[id]; ok && e.ReservationID == reservationID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) DueBefore(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledEmail
	for id := int64(1); id <= f.nextEmailID; id++ {
		e, ok := f.emails[id]
		if !ok || e.Status != domain.EmailScheduled || e.ScheduledAt.After(now) {
			continue
		}
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) mark(id int64, fn func(e *domain.ScheduledEmail)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok || e.Status != domain.EmailScheduled {
		return false, nil
	}
	fn(e)
	return true, nil
}

func (f *fakeStore) Claim(ctx context.Context, id int64) (bool, error) {
	return f.mark(id, func(e *domain.ScheduledEmail) {
		e.Status = domain.EmailSent
	})
}

func (f *fakeStore) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok || e.Status != domain.EmailSent || e.ProviderMessageID != nil {
		return false, nil
	}
	e.ProviderMessageID = &providerMessageID
	e.SentAt = &at
	return true, nil
}

func (f *fakeStore) MarkSkipped(ctx context.Context, id int64, reason string) (bool, error) {
	return f.mark(id, func(e *domain.ScheduledEmail) {
		e.Status = domain.EmailSkipped
		e.SkipReason = &reason
	})
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok || e.ProviderMessageID != nil {
		return false, nil
	}
	switch e.Status {
	case domain.EmailScheduled, domain.EmailSent:
	default:
		return false, nil
	}
	e.Status = domain.EmailFailed
	e.ErrorMessage = &errMsg
	return true, nil
}

func (f *fakeStore) CancelScheduled(ctx context.Context, reservationID int64, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.emails {
		if e.ReservationID == reservationID && e.Status == domain.EmailScheduled {
			e.Status = domain.EmailSkipped
			e.SkipReason = &reason
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ActiveByProperty(ctx context.Context, propertyID int64) (domain.ExternalConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if c.PropertyID == propertyID && c.Usable() {
			return c, nil
		}
	}
	return domain.ExternalConnection{}, domain.ErrNotFound
}

func (f *fakeStore) ByAccommodationID(ctx context.Context, accommodationID string) (domain.ExternalConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if c.ExternalAccommodationID == accommodationID && c.Usable() {
			return c, nil
		}
	}
	return domain.ExternalConnection{}, domain.ErrNotFound
}

func (f *fakeStore) HasOpen(ctx context.Context, reservationID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openIssues[reservationID], nil
}

// ---- collaborator fakes ----

type fakeSender struct {
	mu    sync.Mutex
	sent  []domain.Message
	errFor string // recipients matching this address fail
}

func (s *fakeSender) Send(ctx context.Context, m domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errFor != "" && m.To == s.errFor {
		return "", errors.New("smtp 550 mailbox unavailable")
	}
	s.sent = append(s.sent, m)
	return fmt.Sprintf("prov-%d", len(s.sent)), nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeChannel struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeChannel) CreateBooking(ctx context.Context, accommodationID string, r domain.Reservation) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("OCT-%d", c.calls), nil
}

func (c *fakeChannel) Ping(ctx context.Context) error { return nil }

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{seen: map[string]bool{}} }

func (d *fakeDedupe) FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ReservationEvent
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
