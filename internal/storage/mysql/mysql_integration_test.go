//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"stayflow/internal/domain"
	mysqlrepo "stayflow/internal/storage/mysql"
)

func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Fatalf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/migrations)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=stayflow",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/stayflow?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC", hostPort)

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

func seedReservation(t *testing.T, repo *mysqlrepo.Repo) domain.Reservation {
	t.Helper()
	r, err := repo.Insert(context.Background(), domain.NewReservation{
		PropertyID: 1,
		RoomID:     1,
		GuestID:    1,
		GuestName:  "Ada Lovelace",
		GuestEmail: "ada@example.com",
		CheckIn:    time.Date(2027, time.June, 10, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2027, time.June, 12, 0, 0, 0, 0, time.UTC),
		Adults:     2,
		BaseRate:   25000,
		Currency:   "EUR",
	}, "SF-ITEST1")
	if err != nil {
		t.Fatalf("insert reservation: %v", err)
	}
	return r
}

func TestRepo_MySQL_ReservationLifecycle(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	r := seedReservation(t, repo)
	if r.ID == 0 || r.Status != domain.StatusTentative || r.Version != 1 {
		t.Fatalf("inserted row = %+v", r)
	}

	got, err := repo.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConfirmationNumber != "SF-ITEST1" || !got.CheckIn.Equal(r.CheckIn) {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// CAS succeeds against the current version once.
	if err := repo.UpdateStatus(ctx, r.ID, r.Version, domain.StatusConfirmed); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateStatus(ctx, r.ID, r.Version, domain.StatusCancelled); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("stale version err = %v, want ErrConcurrentModification", err)
	}
	if err := repo.UpdateStatus(ctx, r.ID+100, 1, domain.StatusConfirmed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing row err = %v, want ErrNotFound", err)
	}

	got, _ = repo.Get(ctx, r.ID)
	if got.Status != domain.StatusConfirmed || got.Version != 2 {
		t.Fatalf("after CAS: status=%s version=%d", got.Status, got.Version)
	}

	ext := "OCT-900"
	if err := repo.SetSyncStatus(ctx, r.ID, domain.SyncPushed, &ext); err != nil {
		t.Fatalf("set sync status: %v", err)
	}
	byExt, err := repo.GetByExternalBookingID(ctx, ext)
	if err != nil || byExt.ID != r.ID {
		t.Fatalf("lookup by external id: %v (id=%d)", err, byExt.ID)
	}
	// A later status write without an id keeps the stored external id.
	if err := repo.SetSyncStatus(ctx, r.ID, domain.SyncConfirmed, nil); err != nil {
		t.Fatalf("set sync status: %v", err)
	}
	got, _ = repo.Get(ctx, r.ID)
	if got.SyncStatus != domain.SyncConfirmed || got.ExternalBookingID == nil || *got.ExternalBookingID != ext {
		t.Fatalf("after confirm: %+v", got)
	}
}

func TestRepo_MySQL_ScheduledEmailUniqueness(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	r := seedReservation(t, repo)
	at := time.Date(2027, time.June, 13, 10, 0, 0, 0, time.UTC)

	created, err := repo.CreateIfAbsent(ctx, r.ID, domain.EmailPostCheckout, at)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	// The live-row unique key swallows the duplicate.
	created, err = repo.CreateIfAbsent(ctx, r.ID, domain.EmailPostCheckout, at)
	if err != nil || created {
		t.Fatalf("duplicate insert: created=%v err=%v", created, err)
	}

	due, err := repo.DueBefore(ctx, at.Add(time.Hour), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("due rows = %d err=%v, want 1", len(due), err)
	}

	won, err := repo.Claim(ctx, due[0].ID)
	if err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	// The row left scheduled state; a concurrent claim loses.
	won, err = repo.Claim(ctx, due[0].ID)
	if err != nil || won {
		t.Fatalf("second claim: won=%v err=%v", won, err)
	}

	won, err = repo.MarkSent(ctx, due[0].ID, "prov-1", time.Now().UTC())
	if err != nil || !won {
		t.Fatalf("mark sent: won=%v err=%v", won, err)
	}
	// Delivery details land once; the provider id is never overwritten.
	won, err = repo.MarkSent(ctx, due[0].ID, "prov-2", time.Now().UTC())
	if err != nil || won {
		t.Fatalf("second mark sent: won=%v err=%v", won, err)
	}

	// With the tombstone cleared a fresh live row is allowed again.
	created, err = repo.CreateIfAbsent(ctx, r.ID, domain.EmailPostCheckout, at.AddDate(0, 0, 1))
	if err != nil || !created {
		t.Fatalf("insert after terminal row: created=%v err=%v", created, err)
	}

	n, err := repo.CancelScheduled(ctx, r.ID, "reservation cancelled")
	if err != nil || n != 1 {
		t.Fatalf("cancel scheduled: n=%d err=%v", n, err)
	}

	rows, err := repo.ListByReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("audit trail rows = %d, want 2", len(rows))
	}
	for _, e := range rows {
		if e.Status == domain.EmailScheduled {
			t.Fatalf("row %d still scheduled after cancel", e.ID)
		}
	}
}

func TestRepo_MySQL_ConnectionsAndIssues(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	r := seedReservation(t, repo)

	if _, err := db.Exec(`INSERT INTO external_connections (property_id, external_accommodation_id, is_active, is_connected) VALUES (1, 'ACC-1', 1, 1)`); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO external_connections (property_id, external_accommodation_id, is_active, is_connected) VALUES (2, 'ACC-2', 1, 0)`); err != nil {
		t.Fatalf("seed connection: %v", err)
	}

	conn, err := repo.ActiveByProperty(ctx, 1)
	if err != nil || conn.ExternalAccommodationID != "ACC-1" {
		t.Fatalf("active by property: %+v err=%v", conn, err)
	}
	// Disconnected rows are invisible.
	if _, err := repo.ActiveByProperty(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("disconnected property err = %v, want ErrNotFound", err)
	}
	if _, err := repo.ByAccommodationID(ctx, "ACC-MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing accommodation err = %v, want ErrNotFound", err)
	}

	open, err := repo.HasOpen(ctx, r.ID)
	if err != nil || open {
		t.Fatalf("no issues yet: open=%v err=%v", open, err)
	}
	if _, err := db.Exec(`INSERT INTO issue_reports (reservation_id, status, subject) VALUES (?, 'open', 'broken heater')`, r.ID); err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	open, err = repo.HasOpen(ctx, r.ID)
	if err != nil || !open {
		t.Fatalf("open issue: open=%v err=%v", open, err)
	}
	if _, err := db.Exec(`UPDATE issue_reports SET status='resolved' WHERE reservation_id=?`, r.ID); err != nil {
		t.Fatal(err)
	}
	open, _ = repo.HasOpen(ctx, r.ID)
	if open {
		t.Fatal("resolved issue still reported open")
	}
}
