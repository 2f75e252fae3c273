package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
)

func newTestScheduler(t *testing.T) (*Scheduler, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewScheduler(db), db
}

func createUser(t *testing.T, db *database.DB, email string, active bool) *database.User {
	t.Helper()
	u := &database.User{Email: email, PasswordHash: "hash", Name: email, Role: database.RoleEmployee, Active: active}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

func TestPurge(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()
	u := createUser(t, db, "a@example.com", true)

	if _, err := db.CreatePasswordResetToken(ctx, u.ID, "expired", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreatePasswordResetToken failed: %v", err)
	}
	if _, err := db.CreatePasswordResetToken(ctx, u.ID, "fresh", time.Now().Add(365*24*time.Hour)); err != nil {
		t.Fatalf("CreatePasswordResetToken failed: %v", err)
	}

	read := &database.Notification{UserID: u.ID, Kind: database.NotificationTaskAssigned, Title: "read"}
	unread := &database.Notification{UserID: u.ID, Kind: database.NotificationTaskAssigned, Title: "unread"}
	for _, n := range []*database.Notification{read, unread} {
		if err := db.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
	}
	if _, err := db.MarkNotificationRead(ctx, read.ID, u.ID); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(100 * 24 * time.Hour) }
	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge returned error: %v", err)
	}

	if tok, _ := db.GetPasswordResetTokenByHash(ctx, "expired"); tok != nil {
		t.Fatal("expected expired token to be purged")
	}
	if tok, _ := db.GetPasswordResetTokenByHash(ctx, "fresh"); tok == nil {
		t.Fatal("expected unexpired token to survive")
	}

	list, err := db.ListNotifications(ctx, u.ID, false, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != unread.ID {
		t.Fatalf("expected only the unread notification to remain, got %+v", list)
	}
}

func TestPurge_RetentionDisabled(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()
	u := createUser(t, db, "a@example.com", true)

	if err := db.SetSettingJSON(ctx, config.SettingNotificationRetentionDays, 0); err != nil {
		t.Fatalf("SetSettingJSON failed: %v", err)
	}
	n := &database.Notification{UserID: u.ID, Kind: database.NotificationTaskComment, Title: "kept"}
	if err := db.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}
	if _, err := db.MarkNotificationRead(ctx, n.ID, u.ID); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(1000 * 24 * time.Hour) }
	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge returned error: %v", err)
	}

	count, err := db.ListNotifications(ctx, u.ID, false, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(count) != 1 {
		t.Fatalf("expected notification to be kept with retention 0, got %d", len(count))
	}
}

func TestProvisionYear(t *testing.T) {
	s, db := newTestScheduler(t)
	ctx := context.Background()
	active := createUser(t, db, "active@example.com", true)
	createUser(t, db, "inactive@example.com", false)

	created, err := s.ProvisionYear(ctx, 2027)
	if err != nil {
		t.Fatalf("ProvisionYear returned error: %v", err)
	}
	if created != 3 {
		t.Fatalf("expected 3 balances for one active user, got %d", created)
	}

	again, err := s.ProvisionYear(ctx, 2027)
	if err != nil {
		t.Fatalf("second ProvisionYear returned error: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected provisioning to be idempotent, created %d", again)
	}

	balances, err := db.ListLeaveBalances(ctx, &active.ID, 2027)
	if err != nil {
		t.Fatalf("ListLeaveBalances failed: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t)

	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}

	status := s.Status()
	if len(status) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(status))
	}
	for _, j := range status {
		if j.NextRun.IsZero() {
			t.Fatalf("expected job %s to have a next run", j.Name)
		}
	}

	s.Stop()
	s.Stop()
	if len(s.Status()) != 0 {
		t.Fatal("expected no jobs after Stop")
	}
}
