package app_test

import (
	"context"
	"testing"
	"time"

	"stayflow/internal/app"
	"stayflow/internal/domain"
)

func TestRunDueEmails_MixedOutcomes(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{errFor: "broken@example.com"}
	sched := app.NewEmailScheduler(store, store, store, sender, time.UTC)
	runner := app.NewRunner(store, sched, 50, 4)

	created := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	ok := confirmedReservation(store, created, date(2025, time.March, 10), date(2025, time.March, 12))
	cancelled := confirmedReservation(store, created, date(2025, time.March, 10), date(2025, time.March, 12))
	broken := store.addReservation(domain.Reservation{
		PropertyID: 1, RoomID: 1, GuestID: 1,
		GuestName: "Bad Mailbox", GuestEmail: "broken@example.com",
		CheckIn: date(2025, time.March, 10), CheckOut: date(2025, time.March, 12),
		Adults: 1, BaseRate: 10000, Currency: "EUR",
		Status: domain.StatusConfirmed, CreatedAt: created,
	})

	for _, r := range []domain.Reservation{ok, cancelled, broken} {
		if _, err := store.CreateIfAbsent(context.Background(), r.ID, domain.EmailPostCheckout,
			time.Date(2025, time.March, 13, 10, 0, 0, 0, time.UTC)); err != nil {
			t.Fatal(err)
		}
	}
	store.mu.Lock()
	c := store.reservations[cancelled.ID]
	c.Status = domain.StatusCancelled
	store.reservations[cancelled.ID] = c
	store.mu.Unlock()

	sum, err := runner.RunDueEmails(context.Background(), time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunDueEmails: %v", err)
	}
	want := app.RunSummary{Processed: 3, Sent: 1, Skipped: 1, Failed: 1}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}

	// A second tick finds nothing: every row reached a terminal state.
	sum, err = runner.RunDueEmails(context.Background(), time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second RunDueEmails: %v", err)
	}
	if sum.Processed != 0 {
		t.Fatalf("second tick processed %d rows, want 0", sum.Processed)
	}
}

func TestRunDueEmails_IgnoresFutureRows(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	sched := app.NewEmailScheduler(store, store, store, sender, time.UTC)
	runner := app.NewRunner(store, sched, 50, 4)

	created := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	r := confirmedReservation(store, created, date(2025, time.March, 10), date(2025, time.March, 12))
	if err := sched.ScheduleForReservation(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	// Between the follow-up and the post-checkin send times.
	now := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	sum, err := runner.RunDueEmails(context.Background(), now)
	if err != nil {
		t.Fatalf("RunDueEmails: %v", err)
	}
	if sum.Processed != 1 || sum.Sent != 1 {
		t.Fatalf("summary = %+v, want exactly the follow-up", sum)
	}
	if sender.count() != 1 {
		t.Fatalf("sender called %d times, want 1", sender.count())
	}
}

func TestRunDueEmails_HonorsBatchSize(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	sched := app.NewEmailScheduler(store, store, store, sender, time.UTC)
	runner := app.NewRunner(store, sched, 2, 4)

	created := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := confirmedReservation(store, created, date(2025, time.March, 10), date(2025, time.March, 12))
		if _, err := store.CreateIfAbsent(context.Background(), r.ID, domain.EmailPostCheckout,
			time.Date(2025, time.March, 13, 10, 0, 0, 0, time.UTC)); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	var total int64
	for i := 0; i < 3; i++ {
		sum, err := runner.RunDueEmails(context.Background(), now)
		if err != nil {
			t.Fatal(err)
		}
		if sum.Processed > 2 {
			t.Fatalf("tick processed %d rows, batch size is 2", sum.Processed)
		}
		total += sum.Processed
	}
	if total != 5 {
		t.Fatalf("processed %d rows across ticks, want 5", total)
	}
}
