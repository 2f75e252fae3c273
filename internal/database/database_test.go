package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *DB, email string, role Role, managerID *int64) *User {
	t.Helper()
	u := &User{Email: email, PasswordHash: "hash", Name: email, Role: role, ManagerID: managerID, Active: true}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return u
}

func seedProject(t *testing.T, db *DB, code string) *Project {
	t.Helper()
	p := &Project{Code: code, Name: code + " project"}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("failed to create project %s: %v", code, err)
	}
	return p
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion returned error: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected version %d, got %d", len(migrations), version)
	}

	types, err := db.ListLeaveTypes(ctx, true)
	if err != nil {
		t.Fatalf("ListLeaveTypes returned error: %v", err)
	}
	if len(types) != 3 {
		t.Fatalf("expected 3 default leave types, got %d", len(types))
	}
}

func TestMaintenance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Optimize(ctx); err != nil {
		t.Fatalf("Optimize returned error: %v", err)
	}
	if err := db.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum returned error: %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	sql := `
		-- comment
		CREATE TABLE a (id INTEGER);

		INSERT INTO a VALUES (1);
		SELECT 1`
	got := splitSQLStatements(sql)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if got[2] != "SELECT 1" {
		t.Fatalf("expected trailing statement without semicolon, got %q", got[2])
	}
}

func TestUsers_CreateAndLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.IsFirstRun(ctx)
	if err != nil || !first {
		t.Fatalf("expected first run, got %v (err %v)", first, err)
	}

	boss := seedUser(t, db, "Boss@Example.com", RoleManager, nil)
	if boss.Email != "boss@example.com" {
		t.Fatalf("expected normalized email, got %q", boss.Email)
	}
	emp := seedUser(t, db, "emp@example.com", RoleEmployee, &boss.ID)

	got, err := db.GetUserByEmail(ctx, "  EMP@example.com ")
	if err != nil {
		t.Fatalf("GetUserByEmail returned error: %v", err)
	}
	if got == nil || got.ID != emp.ID {
		t.Fatalf("expected user %d, got %+v", emp.ID, got)
	}
	if got.ManagerName != boss.Name {
		t.Fatalf("expected manager name %q, got %q", boss.Name, got.ManagerName)
	}

	missing, err := db.GetUserByID(ctx, 9999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing user, got %v, %v", missing, err)
	}

	dup := &User{Email: "emp@example.com", PasswordHash: "x", Name: "Dup", Active: true}
	if err := db.CreateUser(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	ok, err := db.IsManagerOf(ctx, boss.ID, emp.ID)
	if err != nil || !ok {
		t.Fatalf("expected boss to manage emp, got %v (err %v)", ok, err)
	}
	ok, _ = db.IsManagerOf(ctx, emp.ID, boss.ID)
	if ok {
		t.Fatal("expected emp not to manage boss")
	}

	reports, err := db.DirectReportIDs(ctx, boss.ID)
	if err != nil {
		t.Fatalf("DirectReportIDs returned error: %v", err)
	}
	if len(reports) != 1 || reports[0] != emp.ID {
		t.Fatalf("expected reports [%d], got %v", emp.ID, reports)
	}
}

func TestListUsers_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedUser(t, db, "admin@example.com", RoleAdmin, nil)
	seedUser(t, db, "alice@example.com", RoleEmployee, nil)
	bob := seedUser(t, db, "bob@example.com", RoleEmployee, nil)
	if err := db.SetUserActive(ctx, bob.ID, false); err != nil {
		t.Fatalf("SetUserActive returned error: %v", err)
	}

	active := true
	tests := []struct {
		name   string
		filter UserFilter
		want   int
	}{
		{"all", UserFilter{}, 3},
		{"employees", UserFilter{Role: RoleEmployee}, 2},
		{"active", UserFilter{Active: &active}, 2},
		{"search", UserFilter{Search: "ali"}, 1},
		{"paged", UserFilter{Limit: 1}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, total, err := db.ListUsers(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListUsers returned error: %v", err)
			}
			if total != tt.want {
				t.Fatalf("expected total %d, got %d", tt.want, total)
			}
			if tt.filter.Limit > 0 && len(users) != tt.filter.Limit {
				t.Fatalf("expected %d users on page, got %d", tt.filter.Limit, len(users))
			}
		})
	}
}

func TestProjects_MembersAndDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	p := seedProject(t, db, "abc")
	if p.Code != "ABC" {
		t.Fatalf("expected upper-cased code, got %q", p.Code)
	}

	if err := db.CreateProject(ctx, &Project{Code: "ABC", Name: "Again"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate code, got %v", err)
	}

	for range 2 {
		if err := db.AddProjectMember(ctx, p.ID, u.ID); err != nil {
			t.Fatalf("AddProjectMember returned error: %v", err)
		}
	}
	members, err := db.ListProjectMembers(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListProjectMembers returned error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	mine, err := db.ListProjects(ctx, ProjectFilter{MemberID: &u.ID})
	if err != nil {
		t.Fatalf("ListProjects returned error: %v", err)
	}
	if len(mine) != 1 || mine[0].MemberCount != 1 {
		t.Fatalf("expected one member project, got %+v", mine)
	}

	entry := &TimeEntry{UserID: u.ID, ProjectID: p.ID, Date: "2026-03-02", Hours: decimal.NewFromInt(4)}
	if err := db.CreateTimeEntry(ctx, entry); err != nil {
		t.Fatalf("CreateTimeEntry returned error: %v", err)
	}
	if err := db.DeleteProject(ctx, p.ID); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse deleting referenced project, got %v", err)
	}

	if err := db.DeleteTimeEntry(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteTimeEntry returned error: %v", err)
	}
	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject returned error: %v", err)
	}
}

func TestTimeEntries_Workflow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	mgr := seedUser(t, db, "m@example.com", RoleManager, nil)
	p := seedProject(t, db, "WORK")

	for _, h := range []string{"7.5", "0.25"} {
		e := &TimeEntry{UserID: u.ID, ProjectID: p.ID, Date: "2026-03-02", Hours: decimal.RequireFromString(h)}
		if err := db.CreateTimeEntry(ctx, e); err != nil {
			t.Fatalf("CreateTimeEntry returned error: %v", err)
		}
	}
	other := &TimeEntry{UserID: u.ID, ProjectID: p.ID, Date: "2026-03-09", Hours: decimal.NewFromInt(2)}
	if err := db.CreateTimeEntry(ctx, other); err != nil {
		t.Fatalf("CreateTimeEntry returned error: %v", err)
	}

	total, err := db.SumHoursForDay(ctx, u.ID, "2026-03-02", 0)
	if err != nil {
		t.Fatalf("SumHoursForDay returned error: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("7.75")) {
		t.Fatalf("expected 7.75 hours, got %s", total)
	}

	n, err := db.SubmitTimeEntries(ctx, u.ID, "2026-03-01", "2026-03-07")
	if err != nil {
		t.Fatalf("SubmitTimeEntries returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 submitted entries, got %d", n)
	}

	submitted, err := db.ListTimeEntries(ctx, TimeEntryFilter{UserIDs: []int64{u.ID}, Status: TimeEntrySubmitted})
	if err != nil {
		t.Fatalf("ListTimeEntries returned error: %v", err)
	}
	if len(submitted) != 2 {
		t.Fatalf("expected 2 submitted entries, got %d", len(submitted))
	}

	ok, err := db.ReviewTimeEntry(ctx, submitted[0].ID, mgr.ID, TimeEntryApproved, "")
	if err != nil || !ok {
		t.Fatalf("expected review to apply, got %v (err %v)", ok, err)
	}
	ok, err = db.ReviewTimeEntry(ctx, submitted[0].ID, mgr.ID, TimeEntryRejected, "again")
	if err != nil || ok {
		t.Fatalf("expected second review to be a no-op, got %v (err %v)", ok, err)
	}
	ok, _ = db.ReviewTimeEntry(ctx, other.ID, mgr.ID, TimeEntryApproved, "")
	if ok {
		t.Fatal("expected draft entry not to be reviewable")
	}

	summary, err := db.SummarizeHours(ctx, TimeEntryFilter{UserIDs: []int64{u.ID}})
	if err != nil {
		t.Fatalf("SummarizeHours returned error: %v", err)
	}
	if len(summary) != 1 || summary[0].Entries != 3 || !summary[0].Hours.Equal(decimal.RequireFromString("9.75")) {
		t.Fatalf("unexpected summary: %+v", summary[0])
	}
}

func TestLeaves_OverlapAndBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	types, err := db.ListLeaveTypes(ctx, true)
	if err != nil {
		t.Fatalf("ListLeaveTypes returned error: %v", err)
	}

	created, err := db.ProvisionLeaveBalances(ctx, u.ID, 2026)
	if err != nil {
		t.Fatalf("ProvisionLeaveBalances returned error: %v", err)
	}
	if created != len(types) {
		t.Fatalf("expected %d balances, got %d", len(types), created)
	}
	again, _ := db.ProvisionLeaveBalances(ctx, u.ID, 2026)
	if again != 0 {
		t.Fatalf("expected provisioning to be idempotent, created %d", again)
	}

	annual := types[0]
	req := &LeaveRequest{
		UserID: u.ID, LeaveTypeID: annual.ID, StartDate: "2026-05-04", EndDate: "2026-05-08",
		Days: decimal.NewFromInt(5),
	}
	if err := db.CreateLeaveRequest(ctx, req); err != nil {
		t.Fatalf("CreateLeaveRequest returned error: %v", err)
	}

	tests := []struct {
		start, end string
		want       bool
	}{
		{"2026-05-01", "2026-05-04", true},
		{"2026-05-08", "2026-05-12", true},
		{"2026-05-05", "2026-05-06", true},
		{"2026-05-09", "2026-05-10", false},
		{"2026-04-27", "2026-05-03", false},
	}
	for _, tt := range tests {
		got, err := db.HasOverlappingLeave(ctx, u.ID, tt.start, tt.end)
		if err != nil {
			t.Fatalf("HasOverlappingLeave returned error: %v", err)
		}
		if got != tt.want {
			t.Fatalf("overlap %s..%s: expected %v, got %v", tt.start, tt.end, tt.want, got)
		}
	}

	ok, err := db.TransitionLeaveRequest(ctx, req.ID, LeavePending, LeaveCancelled, nil, "")
	if err != nil || !ok {
		t.Fatalf("expected cancel to apply, got %v (err %v)", ok, err)
	}
	overlap, _ := db.HasOverlappingLeave(ctx, u.ID, "2026-05-05", "2026-05-06")
	if overlap {
		t.Fatal("expected cancelled request not to count as overlap")
	}

	bal, err := db.GetLeaveBalance(ctx, u.ID, annual.ID, 2026)
	if err != nil || bal == nil {
		t.Fatalf("expected balance, got %v (err %v)", bal, err)
	}
	if err := db.AdjustLeaveBalanceUsed(ctx, bal.ID, decimal.RequireFromString("2.5")); err != nil {
		t.Fatalf("AdjustLeaveBalanceUsed returned error: %v", err)
	}
	if err := db.AdjustLeaveBalanceUsed(ctx, bal.ID, decimal.NewFromInt(-10)); err != nil {
		t.Fatalf("AdjustLeaveBalanceUsed returned error: %v", err)
	}
	bal, _ = db.GetLeaveBalance(ctx, u.ID, annual.ID, 2026)
	if !bal.Used.IsZero() {
		t.Fatalf("expected used clamped to zero, got %s", bal.Used)
	}

	if err := db.SetLeaveAllocation(ctx, u.ID, annual.ID, 2026, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("SetLeaveAllocation returned error: %v", err)
	}
	bal, _ = db.GetLeaveBalance(ctx, u.ID, annual.ID, 2026)
	if !bal.Remaining().Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25 remaining, got %s", bal.Remaining())
	}

	if err := db.DeleteLeaveType(ctx, annual.ID); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse deleting referenced leave type, got %v", err)
	}
}

func TestHolidays_UniqueDate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateHoliday(ctx, &Holiday{Name: "New Year", Date: "2026-01-01"}); err != nil {
		t.Fatalf("CreateHoliday returned error: %v", err)
	}
	if err := db.CreateHoliday(ctx, &Holiday{Name: "Again", Date: "2026-01-01"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	dates, err := db.HolidayDates(ctx, "2026-01-01", "2026-12-31")
	if err != nil {
		t.Fatalf("HolidayDates returned error: %v", err)
	}
	if !dates["2026-01-01"] {
		t.Fatalf("expected holiday in set, got %v", dates)
	}
}

func TestTasks_FilterAndComments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	p := seedProject(t, db, "TSK")
	sprint := &Sprint{ProjectID: p.ID, Name: "S1", StartDate: "2026-03-02", EndDate: "2026-03-13"}
	if err := db.CreateSprint(ctx, sprint); err != nil {
		t.Fatalf("CreateSprint returned error: %v", err)
	}

	low := &Task{ProjectID: p.ID, Title: "low", Priority: PriorityLow, ReporterID: u.ID, AssigneeID: &u.ID}
	urgent := &Task{ProjectID: p.ID, SprintID: &sprint.ID, Title: "urgent", Priority: PriorityUrgent, ReporterID: u.ID,
		EstimateHours: decimal.NewNullDecimal(decimal.NewFromInt(3))}
	for _, task := range []*Task{low, urgent} {
		if err := db.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask returned error: %v", err)
		}
	}

	all, err := db.ListTasks(ctx, TaskFilter{ProjectID: &p.ID})
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if len(all) != 2 || all[0].ID != urgent.ID {
		t.Fatalf("expected urgent task first, got %+v", all)
	}
	if !all[0].EstimateHours.Valid || !all[0].EstimateHours.Decimal.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected estimate 3, got %+v", all[0].EstimateHours)
	}

	if err := db.UpdateTaskStatus(ctx, low.ID, TaskDone); err != nil {
		t.Fatalf("UpdateTaskStatus returned error: %v", err)
	}
	open, _ := db.ListTasks(ctx, TaskFilter{AssigneeID: &u.ID, OpenOnly: true})
	if len(open) != 0 {
		t.Fatalf("expected no open assigned tasks, got %d", len(open))
	}

	none, _ := db.ListTasks(ctx, TaskFilter{ProjectIDs: []int64{}})
	if len(none) != 0 {
		t.Fatalf("expected empty project set to return nothing, got %d", len(none))
	}

	c := &TaskComment{TaskID: urgent.ID, AuthorID: u.ID, Body: "hello"}
	if err := db.AddTaskComment(ctx, c); err != nil {
		t.Fatalf("AddTaskComment returned error: %v", err)
	}
	got, _ := db.GetTask(ctx, urgent.ID)
	if got.CommentCount != 1 {
		t.Fatalf("expected 1 comment, got %d", got.CommentCount)
	}

	if err := db.DeleteSprint(ctx, sprint.ID); err != nil {
		t.Fatalf("DeleteSprint returned error: %v", err)
	}
	got, _ = db.GetTask(ctx, urgent.ID)
	if got.SprintID != nil {
		t.Fatalf("expected task back in backlog, got sprint %d", *got.SprintID)
	}
}

func TestNotifications_Ownership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := seedUser(t, db, "alice@example.com", RoleEmployee, nil)
	bob := seedUser(t, db, "bob@example.com", RoleEmployee, nil)

	n := &Notification{UserID: alice.ID, Kind: NotificationTaskAssigned, Title: "hi"}
	if err := db.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification returned error: %v", err)
	}

	ok, err := db.MarkNotificationRead(ctx, n.ID, bob.ID)
	if err != nil || ok {
		t.Fatalf("expected bob not to mark alice's notification, got %v (err %v)", ok, err)
	}
	if deleted, _ := db.DeleteNotification(ctx, n.ID, bob.ID); deleted {
		t.Fatal("expected bob not to delete alice's notification")
	}

	count, _ := db.CountUnreadNotifications(ctx, alice.ID)
	if count != 1 {
		t.Fatalf("expected 1 unread, got %d", count)
	}
	ok, err = db.MarkNotificationRead(ctx, n.ID, alice.ID)
	if err != nil || !ok {
		t.Fatalf("expected alice to mark read, got %v (err %v)", ok, err)
	}
	unread, _ := db.ListNotifications(ctx, alice.ID, true, 10)
	if len(unread) != 0 {
		t.Fatalf("expected no unread notifications, got %d", len(unread))
	}

	purged, err := db.PurgeReadNotifications(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeReadNotifications returned error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged notification, got %d", purged)
	}
}

func TestPasswordResetTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	tok, err := db.CreatePasswordResetToken(ctx, u.ID, "abc123", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreatePasswordResetToken returned error: %v", err)
	}

	got, err := db.GetPasswordResetTokenByHash(ctx, "abc123")
	if err != nil || got == nil {
		t.Fatalf("expected token, got %v (err %v)", got, err)
	}
	if !got.Usable(time.Now()) {
		t.Fatal("expected fresh token to be usable")
	}
	if got.Usable(time.Now().Add(2 * time.Hour)) {
		t.Fatal("expected token to expire")
	}

	ok, err := db.MarkPasswordResetTokenUsed(ctx, tok.ID)
	if err != nil || !ok {
		t.Fatalf("expected first use to succeed, got %v (err %v)", ok, err)
	}
	ok, _ = db.MarkPasswordResetTokenUsed(ctx, tok.ID)
	if ok {
		t.Fatal("expected second use to fail")
	}

	purged, err := db.PurgePasswordResetTokens(ctx, time.Now())
	if err != nil {
		t.Fatalf("PurgePasswordResetTokens returned error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged token, got %d", purged)
	}
}

func TestSettings_Defaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetSetting(ctx, "notifications.retention_days", "30"); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}
	if err := db.InitializeDefaults(ctx); err != nil {
		t.Fatalf("InitializeDefaults returned error: %v", err)
	}

	all, err := db.GetAllSettings(ctx)
	if err != nil {
		t.Fatalf("GetAllSettings returned error: %v", err)
	}
	if len(all) != len(DefaultSettings) {
		t.Fatalf("expected %d settings, got %d", len(DefaultSettings), len(all))
	}
	if all["notifications.retention_days"] != "30" {
		t.Fatalf("expected existing value kept, got %q", all["notifications.retention_days"])
	}
	if all["calendar.week_start"] != `"monday"` {
		t.Fatalf("expected JSON-encoded default, got %q", all["calendar.week_start"])
	}
}

func TestTransaction_RollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := db.Transaction(ctx, func(tx *DB) error {
		seedUser(t, tx, "tx@example.com", RoleEmployee, nil)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	u, err := db.GetUserByEmail(ctx, "tx@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail returned error: %v", err)
	}
	if u != nil {
		t.Fatal("expected user insert to be rolled back")
	}
}

func TestDocuments_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := seedUser(t, db, "u@example.com", RoleEmployee, nil)
	d := &Document{ID: "doc-1", OwnerID: u.ID, UploadedBy: &u.ID, Name: "cv.pdf", ContentType: "application/pdf", ObjectKey: "users/1/doc-1"}
	if err := db.CreateDocument(ctx, d); err != nil {
		t.Fatalf("CreateDocument returned error: %v", err)
	}

	visible, _ := db.ListDocuments(ctx, u.ID, "", false)
	if len(visible) != 0 {
		t.Fatalf("expected pending document hidden, got %d", len(visible))
	}
	if err := db.MarkDocumentAvailable(ctx, d.ID, 1234); err != nil {
		t.Fatalf("MarkDocumentAvailable returned error: %v", err)
	}
	visible, _ = db.ListDocuments(ctx, u.ID, CategoryOther, false)
	if len(visible) != 1 || visible[0].Size != 1234 {
		t.Fatalf("expected available document with size, got %+v", visible)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if stats.Users != 1 || stats.ActiveUsers != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
