package handlers

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
	"github.com/staffhub/staffhub/internal/storage/storagetest"
)

// Wednesday
var testNow = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

func init() {
	auth.BcryptCost = bcrypt.MinCost
}

type harness struct {
	t        *testing.T
	db       *database.DB
	h        *Handlers
	router   *rpc.Router
	tokens   *auth.TokenIssuer
	store    *storagetest.MemoryStore
	notifier *notification.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	tokens := auth.NewTokenIssuer("0123456789abcdef0123456789abcdef", "staffhub-test", time.Hour)
	store := storagetest.NewMemoryStore()
	notifier := notification.NewManager(db, nil)
	t.Cleanup(notifier.Stop)

	h := New(db, tokens, store, notifier, "https://hr.example.com")
	h.now = func() time.Time { return testNow }

	router := rpc.NewRouter(auth.NewAuthenticator(db, tokens))
	h.Register(router)

	return &harness{t: t, db: db, h: h, router: router, tokens: tokens, store: store, notifier: notifier}
}

// user creates an active account with current-year balances and returns it with a token
func (hs *harness) user(name string, role database.Role, managerID *int64) (*database.User, string) {
	hs.t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(hs.t, err)
	u := &database.User{
		Email:        strings.ToLower(name) + "@example.com",
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		ManagerID:    managerID,
		Active:       true,
	}
	ctx := context.Background()
	require.NoError(hs.t, hs.db.CreateUser(ctx, u))
	_, err = hs.db.ProvisionLeaveBalances(ctx, u.ID, testNow.Year())
	require.NoError(hs.t, err)
	token, _, err := hs.tokens.Issue(u)
	require.NoError(hs.t, err)
	return u, token
}

// call runs a procedure and decodes its result into out when out is non-nil
func (hs *harness) call(token, name string, in any, out any) error {
	hs.t.Helper()
	var raw json.RawMessage
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(hs.t, err)
		raw = b
	}
	data, err := hs.router.Call(context.Background(), name, token, raw)
	if err != nil {
		return err
	}
	if out != nil {
		b, err := json.Marshal(data)
		require.NoError(hs.t, err)
		require.NoError(hs.t, json.Unmarshal(b, out), "decode %s result", name)
	}
	return nil
}

// must runs a procedure that is expected to succeed
func (hs *harness) must(token, name string, in any, out any) {
	hs.t.Helper()
	require.NoError(hs.t, hs.call(token, name, in, out), name)
}

func assertCode(t *testing.T, err error, code rpc.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, rpc.FromError(err).Code, "error: %v", err)
}

func (hs *harness) unread(token string) int {
	hs.t.Helper()
	var out UnreadCount
	hs.must(token, "notification.unreadCount", nil, &out)
	return out.Count
}

func (hs *harness) leaveTypeID(name string) int64 {
	hs.t.Helper()
	types, err := hs.db.ListLeaveTypes(context.Background(), false)
	require.NoError(hs.t, err)
	for _, lt := range types {
		if lt.Name == name {
			return lt.ID
		}
	}
	hs.t.Fatalf("leave type %q not found", name)
	return 0
}

type captureProvider struct {
	mu     sync.Mutex
	events []notification.Event
}

func (c *captureProvider) Name() string { return "capture" }

func (c *captureProvider) Send(_ context.Context, event notification.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureProvider) Test(ctx context.Context) error {
	return c.Send(ctx, notification.Event{Type: "test", Title: "Test"})
}

func (c *captureProvider) captured() []notification.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification.Event(nil), c.events...)
}

func TestRegister_Catalogue(t *testing.T) {
	hs := newHarness(t)

	expected := []string{
		"auth.setupStatus", "auth.setup", "auth.login", "auth.me", "auth.refresh", "auth.forgotPassword", "auth.resetPassword",
		"profile.get", "profile.update", "profile.changePassword", "profile.directReports",
		"admin.stats", "admin.listUsers", "admin.getUser", "admin.createUser", "admin.updateUser", "admin.setUserActive",
		"admin.resetUserPassword", "admin.listLeaveTypes", "admin.createLeaveType", "admin.updateLeaveType",
		"admin.deleteLeaveType", "admin.listLeaveBalances", "admin.setLeaveBalance", "admin.createHoliday",
		"admin.deleteHoliday", "admin.getSettings", "admin.updateSettings",
		"leave.types", "leave.holidays", "leave.myBalances", "leave.myRequests", "leave.request", "leave.cancel",
		"leave.pending", "leave.approve", "leave.reject", "leave.calendar",
		"timesheet.list", "timesheet.create", "timesheet.update", "timesheet.delete", "timesheet.submit",
		"timesheet.team", "timesheet.approve", "timesheet.reject", "timesheet.summary",
		"project.list", "project.get", "project.create", "project.update", "project.delete", "project.addMember",
		"project.removeMember", "sprint.list", "sprint.create", "sprint.update", "sprint.delete",
		"task.list", "task.get", "task.create", "task.update", "task.updateStatus", "task.assign", "task.delete",
		"task.mine", "task.addComment", "task.deleteComment",
		"document.list", "document.requestUpload", "document.confirmUpload", "document.getDownloadUrl", "document.delete",
		"notification.list", "notification.unreadCount", "notification.markRead", "notification.markAllRead",
		"notification.delete",
	}
	for _, name := range expected {
		_, ok := hs.router.Lookup(name)
		assert.True(t, ok, "procedure %s is not registered", name)
	}

	p, _ := hs.router.Lookup("leave.approve")
	assert.Equal(t, rpc.KindMutation, p.Kind)
	assert.Equal(t, "ADMIN|MANAGER", p.Access)
}

func TestAuth_SetupAndLogin(t *testing.T) {
	hs := newHarness(t)

	var status SetupStatus
	hs.must("", "auth.setupStatus", nil, &status)
	assert.True(t, status.NeedsSetup)

	// 30 characters but 90 bytes, past bcrypt's input limit
	long := strings.Repeat("€", 30)
	err := hs.call("", "auth.setup", map[string]any{"email": "root@example.com", "password": long, "name": "Root"}, nil)
	assertCode(t, err, rpc.CodeBadRequest)

	var session Session
	hs.must("", "auth.setup", map[string]any{"email": "Root@Example.com", "password": "supersecret", "name": "Root"}, &session)
	require.NotEmpty(t, session.Token)
	assert.Equal(t, "root@example.com", session.User.Email)
	assert.Equal(t, database.RoleAdmin, session.User.Role)

	hs.must("", "auth.setupStatus", nil, &status)
	assert.False(t, status.NeedsSetup)

	err = hs.call("", "auth.setup", map[string]any{"email": "other@example.com", "password": "supersecret", "name": "Other"}, nil)
	assertCode(t, err, rpc.CodeConflict)

	// Setup seeds runtime settings and provisions the admin's balances
	var settings map[string]any
	hs.must(session.Token, "admin.getSettings", nil, &settings)
	assert.Equal(t, "monday", settings["calendar.week_start"])
	var balances []*BalanceView
	hs.must(session.Token, "leave.myBalances", nil, &balances)
	assert.Len(t, balances, 3)

	err = hs.call("", "auth.login", map[string]any{"email": "root@example.com", "password": "wrong-password"}, nil)
	assertCode(t, err, rpc.CodeUnauthorized)

	hs.must("", "auth.login", map[string]any{"email": "ROOT@example.com", "password": "supersecret"}, &session)
	require.NotEmpty(t, session.Token)

	var me database.User
	hs.must(session.Token, "auth.me", nil, &me)
	assert.Equal(t, "Root", me.Name)

	var refreshed Session
	hs.must(session.Token, "auth.refresh", nil, &refreshed)
	assert.NotEmpty(t, refreshed.Token)
}

func TestAuth_InactiveUserCannotLogIn(t *testing.T) {
	hs := newHarness(t)
	u, token := hs.user("Ivy", database.RoleEmployee, nil)
	require.NoError(t, hs.db.SetUserActive(context.Background(), u.ID, false))

	err := hs.call("", "auth.login", map[string]any{"email": u.Email, "password": "password123"}, nil)
	assertCode(t, err, rpc.CodeUnauthorized)

	// Existing tokens stop working too
	err = hs.call(token, "auth.me", nil, nil)
	assertCode(t, err, rpc.CodeUnauthorized)
}

func TestAuth_ForgotAndResetPassword(t *testing.T) {
	hs := newHarness(t)
	capture := &captureProvider{}
	hs.notifier.RegisterProvider("capture", capture)

	u, _ := hs.user("Rita", database.RoleEmployee, nil)

	var res OK
	hs.must("", "auth.forgotPassword", map[string]any{"email": "nobody@example.com"}, &res)
	assert.True(t, res.OK)
	hs.must("", "auth.forgotPassword", map[string]any{"email": u.Email}, &res)
	assert.True(t, res.OK)

	require.Eventually(t, func() bool { return len(capture.captured()) == 1 }, 2*time.Second, 10*time.Millisecond)
	event := capture.captured()[0]
	assert.Equal(t, notification.EventPasswordReset, event.Type)
	assert.Equal(t, u.Email, event.Fields["email"])
	require.True(t, strings.HasPrefix(event.Link, "https://hr.example.com/reset-password?token="))
	token := strings.TrimPrefix(event.Link, "https://hr.example.com/reset-password?token=")

	err := hs.call("", "auth.resetPassword", map[string]any{"token": token, "password": "short"}, nil)
	assertCode(t, err, rpc.CodeBadRequest)

	hs.must("", "auth.resetPassword", map[string]any{"token": token, "password": "brand-new-pass"}, &res)

	err = hs.call("", "auth.resetPassword", map[string]any{"token": token, "password": "another-pass"}, nil)
	assertCode(t, err, rpc.CodeBadRequest)

	var session Session
	hs.must("", "auth.login", map[string]any{"email": u.Email, "password": "brand-new-pass"}, &session)
	assert.Equal(t, u.ID, session.User.ID)
}

func TestAccessControl(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	_, employeeToken := hs.user("Eve", database.RoleEmployee, nil)

	assertCode(t, hs.call("", "admin.listUsers", nil, nil), rpc.CodeUnauthorized)
	assertCode(t, hs.call("garbage", "auth.me", nil, nil), rpc.CodeUnauthorized)
	assertCode(t, hs.call(employeeToken, "admin.listUsers", nil, nil), rpc.CodeForbidden)
	assertCode(t, hs.call(employeeToken, "leave.pending", nil, nil), rpc.CodeForbidden)

	var page UserPage
	hs.must(adminToken, "admin.listUsers", map[string]any{"role": "EMPLOYEE"}, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "Eve", page.Users[0].Name)

	assertCode(t, hs.call(adminToken, "admin.listUsers", map[string]any{"limit": 500}, nil), rpc.CodeBadRequest)
}

func TestProfile(t *testing.T) {
	hs := newHarness(t)
	mgr, mgrToken := hs.user("Max", database.RoleManager, nil)
	_, empToken := hs.user("Eve", database.RoleEmployee, &mgr.ID)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)

	var u database.User
	hs.must(empToken, "profile.update", map[string]any{"name": "Eve Adams", "phone": "555-0100"}, &u)
	assert.Equal(t, "Eve Adams", u.Name)
	hs.must(empToken, "profile.get", nil, &u)
	assert.Equal(t, "555-0100", u.Phone)
	assert.Equal(t, "Max", u.ManagerName)

	err := hs.call(empToken, "profile.changePassword", map[string]any{"currentPassword": "nope", "newPassword": "whatever123"}, nil)
	assertCode(t, err, rpc.CodeForbidden)
	err = hs.call(empToken, "profile.changePassword", map[string]any{"currentPassword": "password123", "newPassword": strings.Repeat("€", 30)}, nil)
	assertCode(t, err, rpc.CodeBadRequest)
	hs.must(empToken, "profile.changePassword", map[string]any{"currentPassword": "password123", "newPassword": "whatever123"}, nil)

	var reports []*database.User
	hs.must(mgrToken, "profile.directReports", nil, &reports)
	require.Len(t, reports, 1)
	assert.Equal(t, "Eve Adams", reports[0].Name)

	assertCode(t, hs.call(mgrToken, "profile.directReports", map[string]any{"managerId": 999}, nil), rpc.CodeForbidden)
	hs.must(adminToken, "profile.directReports", map[string]any{"managerId": mgr.ID}, &reports)
	assert.Len(t, reports, 1)
}

func TestAdmin_CreateUser(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	mgr, _ := hs.user("Max", database.RoleManager, nil)
	emp, _ := hs.user("Eve", database.RoleEmployee, nil)

	var created database.User
	hs.must(adminToken, "admin.createUser", map[string]any{
		"email": "new@example.com", "password": "password123", "name": "Newbie",
		"role": "EMPLOYEE", "managerId": mgr.ID, "hireDate": "2026-03-01",
	}, &created)
	assert.Equal(t, "Max", created.ManagerName)
	require.NotNil(t, created.HireDate)
	assert.Equal(t, "2026-03-01", *created.HireDate)

	var balances []*database.LeaveBalance
	hs.must(adminToken, "admin.listLeaveBalances", map[string]any{"userId": created.ID}, &balances)
	assert.Len(t, balances, 3)

	tests := []struct {
		name  string
		input map[string]any
		code  rpc.Code
	}{
		{"duplicate email", map[string]any{"email": "NEW@example.com", "password": "password123", "name": "Dup", "role": "EMPLOYEE"}, rpc.CodeConflict},
		{"manager is an employee", map[string]any{"email": "x@example.com", "password": "password123", "name": "X", "role": "EMPLOYEE", "managerId": emp.ID}, rpc.CodeBadRequest},
		{"unknown manager", map[string]any{"email": "y@example.com", "password": "password123", "name": "Y", "role": "EMPLOYEE", "managerId": 9999}, rpc.CodeBadRequest},
		{"bad role", map[string]any{"email": "z@example.com", "password": "password123", "name": "Z", "role": "BOSS"}, rpc.CodeBadRequest},
		{"bad hire date", map[string]any{"email": "w@example.com", "password": "password123", "name": "W", "role": "EMPLOYEE", "hireDate": "01/03/2026"}, rpc.CodeBadRequest},
		{"short password", map[string]any{"email": "v@example.com", "password": "short", "name": "V", "role": "EMPLOYEE"}, rpc.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, hs.call(adminToken, "admin.createUser", tt.input, nil), tt.code)
		})
	}
}

func TestAdmin_UpdateUserRules(t *testing.T) {
	hs := newHarness(t)
	admin, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	top, _ := hs.user("Tom", database.RoleManager, nil)
	mid, _ := hs.user("Mia", database.RoleManager, &top.ID)
	_, _ = hs.user("Eve", database.RoleEmployee, &mid.ID)

	update := func(u *database.User, role database.Role, managerID *int64) error {
		return hs.call(adminToken, "admin.updateUser", map[string]any{
			"id": u.ID, "name": u.Name, "role": role, "managerId": managerID,
		}, nil)
	}

	assertCode(t, update(top, database.RoleManager, &mid.ID), rpc.CodeBadRequest)
	assertCode(t, update(mid, database.RoleManager, &mid.ID), rpc.CodeBadRequest)
	assertCode(t, update(mid, database.RoleEmployee, &top.ID), rpc.CodeConflict)
	assertCode(t, update(admin, database.RoleManager, nil), rpc.CodeBadRequest)

	var u database.User
	hs.must(adminToken, "admin.updateUser", map[string]any{
		"id": top.ID, "name": "Tom T", "role": "MANAGER", "department": "Ops", "position": "Head",
	}, &u)
	assert.Equal(t, "Ops", u.Department)

	assertCode(t, hs.call(adminToken, "admin.setUserActive", map[string]any{"id": admin.ID, "active": false}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(adminToken, "admin.setUserActive", map[string]any{"id": mid.ID, "active": false}, nil), rpc.CodeConflict)
	assertCode(t, hs.call(adminToken, "admin.setUserActive", map[string]any{"id": mid.ID}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(adminToken, "admin.getUser", map[string]any{"id": 9999}, nil), rpc.CodeNotFound)
}

func TestAdmin_LeaveTypesAndBalances(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	emp, empToken := hs.user("Eve", database.RoleEmployee, nil)

	var lt database.LeaveType
	hs.must(adminToken, "admin.createLeaveType", map[string]any{"name": "Study", "defaultDays": "5", "paid": true}, &lt)
	assert.True(t, lt.Active)
	assertCode(t, hs.call(adminToken, "admin.createLeaveType", map[string]any{"name": "Study", "defaultDays": "5"}, nil), rpc.CodeConflict)
	assertCode(t, hs.call(adminToken, "admin.createLeaveType", map[string]any{"name": "Neg", "defaultDays": "-1"}, nil), rpc.CodeBadRequest)

	var balance database.LeaveBalance
	hs.must(adminToken, "admin.setLeaveBalance", map[string]any{"userId": emp.ID, "leaveTypeId": lt.ID, "year": 2026, "allocated": "7.5"}, &balance)
	assert.Equal(t, "7.5", balance.Allocated.String())
	assertCode(t, hs.call(adminToken, "admin.setLeaveBalance", map[string]any{"userId": emp.ID, "leaveTypeId": lt.ID, "year": 1999, "allocated": "1"}, nil), rpc.CodeBadRequest)

	// A referenced type cannot be deleted, only deactivated
	hs.must(empToken, "leave.request", map[string]any{"leaveTypeId": lt.ID, "startDate": "2026-03-09", "endDate": "2026-03-09"}, nil)
	assertCode(t, hs.call(adminToken, "admin.deleteLeaveType", map[string]any{"id": lt.ID}, nil), rpc.CodeConflict)
	hs.must(adminToken, "admin.updateLeaveType", map[string]any{"id": lt.ID, "name": "Study", "defaultDays": "5", "paid": true, "active": false}, &lt)
	assert.False(t, lt.Active)

	var types []*database.LeaveType
	hs.must(empToken, "leave.types", nil, &types)
	for _, typ := range types {
		assert.NotEqual(t, "Study", typ.Name)
	}

	var unused database.LeaveType
	hs.must(adminToken, "admin.createLeaveType", map[string]any{"name": "Temp", "defaultDays": "1"}, &unused)
	hs.must(adminToken, "admin.deleteLeaveType", map[string]any{"id": unused.ID}, nil)
	assertCode(t, hs.call(adminToken, "admin.deleteLeaveType", map[string]any{"id": unused.ID}, nil), rpc.CodeNotFound)
}

func TestAdmin_Settings(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)

	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"unknown key", map[string]any{"nope": 1}},
		{"bad week start", map[string]any{"calendar.week_start": "friday"}},
		{"wrong type", map[string]any{"notifications.retention_days": "ninety"}},
		{"daily hours out of range", map[string]any{"timesheet.max_daily_hours": 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hs.call(adminToken, "admin.updateSettings", map[string]any{"settings": tt.settings}, nil)
			assertCode(t, err, rpc.CodeBadRequest)
		})
	}

	var settings map[string]any
	hs.must(adminToken, "admin.updateSettings", map[string]any{"settings": map[string]any{
		"calendar.week_start":          "sunday",
		"notifications.retention_days": 30,
	}}, &settings)
	assert.Equal(t, "sunday", settings["calendar.week_start"])
	assert.EqualValues(t, 30, settings["notifications.retention_days"])
	assert.EqualValues(t, 60, settings["auth.reset_token_ttl_minutes"])

	// Week start drives the default timesheet range
	var list EntryList
	hs.must(adminToken, "timesheet.list", nil, &list)
	assert.Equal(t, "2026-03-01", list.From)
	assert.Equal(t, "2026-03-07", list.To)
}

func TestAdmin_Diagnostics(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	capture := &captureProvider{}
	hs.notifier.RegisterProvider("capture", capture)

	var providers []string
	hs.must(adminToken, "admin.notificationProviders", nil, &providers)
	assert.Equal(t, []string{"capture"}, providers)

	hs.must(adminToken, "admin.testNotification", map[string]any{"provider": "capture"}, nil)
	assert.Len(t, capture.captured(), 1)
	assertCode(t, hs.call(adminToken, "admin.testNotification", map[string]any{"provider": "missing"}, nil), rpc.CodeNotFound)

	defer hs.must(adminToken, "admin.setLogLevel", map[string]any{"level": "info"}, nil)
	var level LogLevel
	hs.must(adminToken, "admin.setLogLevel", map[string]any{"level": "debug"}, &level)
	assert.Equal(t, "debug", level.Level)
	var current LogLevel
	hs.must(adminToken, "admin.getLogLevel", nil, &current)
	assert.Equal(t, "debug", current.Level)
	assertCode(t, hs.call(adminToken, "admin.setLogLevel", map[string]any{"level": "loud"}, nil), rpc.CodeBadRequest)
}
