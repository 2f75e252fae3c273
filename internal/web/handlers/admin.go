package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/calendar"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/logging"
	"github.com/staffhub/staffhub/internal/rpc"
)

const maxPageSize = 200

type ListUsersInput struct {
	Role   database.Role `json:"role" validate:"omitempty,oneof=ADMIN MANAGER EMPLOYEE"`
	Active *bool         `json:"active"`
	Search string        `json:"search" validate:"max=100"`
	Limit  int           `json:"limit" validate:"min=0,max=200"`
	Offset int           `json:"offset" validate:"min=0"`
}

type UserPage struct {
	Users []*database.User `json:"users"`
	Total int              `json:"total"`
}

type CreateUserInput struct {
	Email      string        `json:"email" validate:"required,email,max=254"`
	Password   string        `json:"password" validate:"required,min=8,maxbytes=72"`
	Name       string        `json:"name" validate:"required,max=100"`
	Role       database.Role `json:"role" validate:"required,oneof=ADMIN MANAGER EMPLOYEE"`
	ManagerID  *int64        `json:"managerId" validate:"omitempty,gt=0"`
	Department string        `json:"department" validate:"max=100"`
	Position   string        `json:"position" validate:"max=100"`
	Phone      string        `json:"phone" validate:"max=32"`
	HireDate   *string       `json:"hireDate" validate:"omitempty,date"`
}

type UpdateUserInput struct {
	ID         int64         `json:"id" validate:"required,gt=0"`
	Name       string        `json:"name" validate:"required,max=100"`
	Role       database.Role `json:"role" validate:"required,oneof=ADMIN MANAGER EMPLOYEE"`
	ManagerID  *int64        `json:"managerId" validate:"omitempty,gt=0"`
	Department string        `json:"department" validate:"max=100"`
	Position   string        `json:"position" validate:"max=100"`
	Phone      string        `json:"phone" validate:"max=32"`
	HireDate   *string       `json:"hireDate" validate:"omitempty,date"`
}

type SetUserActiveInput struct {
	ID     int64 `json:"id" validate:"required,gt=0"`
	Active *bool `json:"active" validate:"required"`
}

type ResetUserPasswordInput struct {
	ID       int64  `json:"id" validate:"required,gt=0"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

type LeaveTypeInput struct {
	Name        string          `json:"name" validate:"required,max=50"`
	DefaultDays decimal.Decimal `json:"defaultDays"`
	Paid        bool            `json:"paid"`
}

type UpdateLeaveTypeInput struct {
	ID          int64           `json:"id" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required,max=50"`
	DefaultDays decimal.Decimal `json:"defaultDays"`
	Paid        bool            `json:"paid"`
	Active      bool            `json:"active"`
}

type ListLeaveBalancesInput struct {
	UserID *int64 `json:"userId" validate:"omitempty,gt=0"`
	Year   int    `json:"year" validate:"omitempty,min=2000,max=2100"`
}

type SetLeaveBalanceInput struct {
	UserID      int64           `json:"userId" validate:"required,gt=0"`
	LeaveTypeID int64           `json:"leaveTypeId" validate:"required,gt=0"`
	Year        int             `json:"year" validate:"required,min=2000,max=2100"`
	Allocated   decimal.Decimal `json:"allocated"`
}

type CreateHolidayInput struct {
	Name string `json:"name" validate:"required,max=100"`
	Date string `json:"date" validate:"required,date"`
}

type LogLevelInput struct {
	Level string `json:"level" validate:"required,oneof=trace debug info warn"`
}

type LogLevel struct {
	Level string `json:"level"`
}

type TestNotificationInput struct {
	Provider string `json:"provider" validate:"required,max=50"`
}

type UpdateSettingsInput struct {
	Settings map[string]json.RawMessage `json:"settings" validate:"required,min=1"`
}

func (h *Handlers) registerAdmin(r *rpc.Router) {
	rpc.Query(r, "admin.stats", admins, h.stats)
	rpc.Query(r, "admin.listUsers", admins, h.listUsers)
	rpc.Query(r, "admin.getUser", admins, h.getUser)
	rpc.Mutation(r, "admin.createUser", admins, h.createUser)
	rpc.Mutation(r, "admin.updateUser", admins, h.updateUser)
	rpc.Mutation(r, "admin.setUserActive", admins, h.setUserActive)
	rpc.Mutation(r, "admin.resetUserPassword", admins, h.resetUserPassword)

	rpc.Query(r, "admin.listLeaveTypes", admins, h.listLeaveTypes)
	rpc.Mutation(r, "admin.createLeaveType", admins, h.createLeaveType)
	rpc.Mutation(r, "admin.updateLeaveType", admins, h.updateLeaveType)
	rpc.Mutation(r, "admin.deleteLeaveType", admins, h.deleteLeaveType)
	rpc.Query(r, "admin.listLeaveBalances", admins, h.listLeaveBalances)
	rpc.Mutation(r, "admin.setLeaveBalance", admins, h.setLeaveBalance)

	rpc.Mutation(r, "admin.createHoliday", admins, h.createHoliday)
	rpc.Mutation(r, "admin.deleteHoliday", admins, h.deleteHoliday)

	rpc.Query(r, "admin.getSettings", admins, h.getSettings)
	rpc.Mutation(r, "admin.updateSettings", admins, h.updateSettings)

	rpc.Query(r, "admin.getLogLevel", admins, h.getLogLevel)
	rpc.Mutation(r, "admin.setLogLevel", admins, h.setLogLevel)
	rpc.Query(r, "admin.notificationProviders", admins, h.notificationProviders)
	rpc.Mutation(r, "admin.testNotification", admins, h.testNotification)
}

func (h *Handlers) stats(ctx context.Context, _ struct{}) (*database.Stats, error) {
	return h.db.GetStats(ctx)
}

// Users

func (h *Handlers) listUsers(ctx context.Context, in ListUsersInput) (*UserPage, error) {
	limit := in.Limit
	if limit == 0 {
		limit = 50
	}
	users, total, err := h.db.ListUsers(ctx, database.UserFilter{
		Role:   in.Role,
		Active: in.Active,
		Search: in.Search,
		Limit:  min(limit, maxPageSize),
		Offset: in.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &UserPage{Users: users, Total: total}, nil
}

func (h *Handlers) getUser(ctx context.Context, in IDInput) (*database.User, error) {
	return h.loadUser(ctx, in.ID)
}

// checkManager verifies managerID can supervise userID (0 for a new user)
// without creating a reporting cycle
func checkManager(ctx context.Context, db *database.DB, userID, managerID int64) error {
	if managerID == userID {
		return rpc.BadRequest("a user cannot be their own manager")
	}
	m, err := db.GetUserByID(ctx, managerID)
	if err != nil {
		return err
	}
	if m == nil || !m.Active {
		return rpc.BadRequest("manager not found or inactive")
	}
	if !m.Role.CanManage() {
		return rpc.BadRequest("manager must have the MANAGER or ADMIN role")
	}
	if userID == 0 {
		return nil
	}

	// Walk up the chain; reaching userID means the assignment would loop.
	seen := map[int64]bool{}
	for cur := m; cur != nil && cur.ManagerID != nil; {
		next := *cur.ManagerID
		if next == userID {
			return rpc.BadRequest("manager assignment would create a reporting cycle")
		}
		if seen[next] {
			break
		}
		seen[next] = true
		if cur, err = db.GetUserByID(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) createUser(ctx context.Context, in CreateUserInput) (*database.User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &database.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         in.Role,
		ManagerID:    in.ManagerID,
		Department:   in.Department,
		Position:     in.Position,
		Phone:        in.Phone,
		HireDate:     in.HireDate,
		Active:       true,
	}

	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		if u.ManagerID != nil {
			if err := checkManager(ctx, tx, 0, *u.ManagerID); err != nil {
				return err
			}
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return rpc.Conflict("a user with this email already exists")
			}
			return err
		}
		if config.NewLoader(ctx, tx).Bool(config.SettingProvisionOnCreate, true) {
			if _, err := tx.ProvisionLeaveBalances(ctx, u.ID, h.now().UTC().Year()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", u.ID).Str("email", u.Email).Str("role", string(u.Role)).Msg("User created")
	return h.loadUser(ctx, u.ID)
}

func (h *Handlers) updateUser(ctx context.Context, in UpdateUserInput) (*database.User, error) {
	actor := rpc.MustUser(ctx)
	if actor.ID == in.ID && in.Role != database.RoleAdmin {
		return nil, rpc.BadRequest("you cannot remove your own admin role")
	}

	err := h.db.Transaction(ctx, func(tx *database.DB) error {
		u, err := tx.GetUserByID(ctx, in.ID)
		if err != nil {
			return err
		}
		if u == nil {
			return rpc.NotFound("user")
		}
		if in.ManagerID != nil && (u.ManagerID == nil || *u.ManagerID != *in.ManagerID) {
			if err := checkManager(ctx, tx, u.ID, *in.ManagerID); err != nil {
				return err
			}
		}
		if !in.Role.CanManage() && u.Role.CanManage() {
			reports, err := tx.DirectReportIDs(ctx, u.ID)
			if err != nil {
				return err
			}
			if len(reports) > 0 {
				return rpc.Conflict("reassign this user's direct reports before changing their role")
			}
		}

		u.Name = in.Name
		u.Role = in.Role
		u.ManagerID = in.ManagerID
		u.Department = in.Department
		u.Position = in.Position
		u.Phone = in.Phone
		u.HireDate = in.HireDate
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return h.loadUser(ctx, in.ID)
}

func (h *Handlers) setUserActive(ctx context.Context, in SetUserActiveInput) (*database.User, error) {
	active := *in.Active
	if rpc.MustUser(ctx).ID == in.ID && !active {
		return nil, rpc.BadRequest("you cannot deactivate your own account")
	}
	if _, err := h.loadUser(ctx, in.ID); err != nil {
		return nil, err
	}
	if !active {
		reports, err := h.db.DirectReportIDs(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		if len(reports) > 0 {
			return nil, rpc.Conflict("reassign this user's direct reports before deactivating them")
		}
	}
	if err := h.db.SetUserActive(ctx, in.ID, active); err != nil {
		return nil, err
	}
	log.Info().Int64("user_id", in.ID).Bool("active", active).Msg("User active state changed")
	return h.loadUser(ctx, in.ID)
}

func (h *Handlers) resetUserPassword(ctx context.Context, in ResetUserPasswordInput) (OK, error) {
	if _, err := h.loadUser(ctx, in.ID); err != nil {
		return OK{}, err
	}
	if err := h.authService.UpdatePassword(ctx, in.ID, in.Password); err != nil {
		return OK{}, err
	}
	if err := h.db.InvalidatePasswordResetTokens(ctx, in.ID); err != nil {
		log.Warn().Err(err).Int64("user_id", in.ID).Msg("Failed to invalidate reset tokens")
	}
	log.Info().Int64("user_id", in.ID).Int64("admin_id", rpc.MustUser(ctx).ID).Msg("Password reset by admin")
	return ok, nil
}

// Leave types and balances

func checkDays(d decimal.Decimal, field string) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(calendar.MaxLeaveSpan)) {
		return rpc.BadRequest(field + " must be between 0 and 366")
	}
	return nil
}

func (h *Handlers) listLeaveTypes(ctx context.Context, _ struct{}) ([]*database.LeaveType, error) {
	return h.db.ListLeaveTypes(ctx, false)
}

func (h *Handlers) createLeaveType(ctx context.Context, in LeaveTypeInput) (*database.LeaveType, error) {
	if err := checkDays(in.DefaultDays, "defaultDays"); err != nil {
		return nil, err
	}
	lt := &database.LeaveType{Name: in.Name, DefaultDays: in.DefaultDays, Paid: in.Paid, Active: true}
	if err := h.db.CreateLeaveType(ctx, lt); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, rpc.Conflict("a leave type with this name already exists")
		}
		return nil, err
	}
	return lt, nil
}

func (h *Handlers) updateLeaveType(ctx context.Context, in UpdateLeaveTypeInput) (*database.LeaveType, error) {
	if err := checkDays(in.DefaultDays, "defaultDays"); err != nil {
		return nil, err
	}
	lt, err := h.db.GetLeaveType(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if lt == nil {
		return nil, rpc.NotFound("leave type")
	}
	lt.Name = in.Name
	lt.DefaultDays = in.DefaultDays
	lt.Paid = in.Paid
	lt.Active = in.Active
	if err := h.db.UpdateLeaveType(ctx, lt); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, rpc.Conflict("a leave type with this name already exists")
		}
		return nil, err
	}
	return lt, nil
}

func (h *Handlers) deleteLeaveType(ctx context.Context, in IDInput) (OK, error) {
	lt, err := h.db.GetLeaveType(ctx, in.ID)
	if err != nil {
		return OK{}, err
	}
	if lt == nil {
		return OK{}, rpc.NotFound("leave type")
	}
	if err := h.db.DeleteLeaveType(ctx, in.ID); err != nil {
		if errors.Is(err, database.ErrInUse) {
			return OK{}, rpc.Conflict("leave type is in use; deactivate it instead")
		}
		return OK{}, err
	}
	return ok, nil
}

func (h *Handlers) listLeaveBalances(ctx context.Context, in ListLeaveBalancesInput) ([]*database.LeaveBalance, error) {
	year := in.Year
	if year == 0 {
		year = h.now().UTC().Year()
	}
	return h.db.ListLeaveBalances(ctx, in.UserID, year)
}

func (h *Handlers) setLeaveBalance(ctx context.Context, in SetLeaveBalanceInput) (*database.LeaveBalance, error) {
	if err := checkDays(in.Allocated, "allocated"); err != nil {
		return nil, err
	}
	if _, err := h.loadUser(ctx, in.UserID); err != nil {
		return nil, err
	}
	lt, err := h.db.GetLeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if lt == nil {
		return nil, rpc.NotFound("leave type")
	}
	if err := h.db.SetLeaveAllocation(ctx, in.UserID, in.LeaveTypeID, in.Year, in.Allocated); err != nil {
		return nil, err
	}
	return h.db.GetLeaveBalance(ctx, in.UserID, in.LeaveTypeID, in.Year)
}

// Holidays

func (h *Handlers) createHoliday(ctx context.Context, in CreateHolidayInput) (*database.Holiday, error) {
	hol := &database.Holiday{Name: in.Name, Date: in.Date}
	if err := h.db.CreateHoliday(ctx, hol); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, rpc.Conflict("a holiday already exists on " + in.Date)
		}
		return nil, err
	}
	return hol, nil
}

func (h *Handlers) deleteHoliday(ctx context.Context, in IDInput) (OK, error) {
	deleted, err := h.db.DeleteHoliday(ctx, in.ID)
	if err != nil {
		return OK{}, err
	}
	if !deleted {
		return OK{}, rpc.NotFound("holiday")
	}
	return ok, nil
}

// Settings

func (h *Handlers) getSettings(ctx context.Context, _ struct{}) (map[string]any, error) {
	stored, err := h.db.GetAllSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := maps.Clone(database.DefaultSettings)
	for key, raw := range stored {
		if !database.IsKnownSetting(key) {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			log.Warn().Str("key", key).Msg("Ignoring malformed setting value")
			continue
		}
		out[key] = v
	}
	return out, nil
}

// decodeSetting parses raw into the type of the setting's default value
func decodeSetting(key string, raw json.RawMessage) (any, error) {
	switch def := database.DefaultSettings[key].(type) {
	case int:
		var v int
		if err := json.Unmarshal(raw, &v); err != nil || v < 0 {
			return nil, rpc.BadRequest(key + " must be a non-negative integer")
		}
		if key == config.SettingMaxDailyHours && (v < 1 || v > 24) {
			return nil, rpc.BadRequest(key + " must be between 1 and 24")
		}
		return v, nil
	case bool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, rpc.BadRequest(key + " must be a boolean")
		}
		return v, nil
	case string:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, rpc.BadRequest(key + " must be a string")
		}
		if key == config.SettingWeekStart && v != string(calendar.WeekStartMonday) && v != string(calendar.WeekStartSunday) {
			return nil, rpc.BadRequest(key + " must be monday or sunday")
		}
		return v, nil
	default:
		return nil, rpc.Errorf(rpc.CodeInternal, "setting %s has unsupported default %T", key, def)
	}
}

func (h *Handlers) updateSettings(ctx context.Context, in UpdateSettingsInput) (map[string]any, error) {
	values := make(map[string]any, len(in.Settings))
	for key, raw := range in.Settings {
		if !database.IsKnownSetting(key) {
			return nil, rpc.BadRequest("unknown setting " + key)
		}
		v, err := decodeSetting(key, raw)
		if err != nil {
			return nil, err
		}
		values[key] = v
	}

	err := h.db.Transaction(ctx, func(tx *database.DB) error {
		for key, v := range values {
			if err := tx.SetSettingJSON(ctx, key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(values)).Msg("Settings updated")
	return h.getSettings(ctx, struct{}{})
}

// Diagnostics

func (h *Handlers) getLogLevel(ctx context.Context, _ struct{}) (*LogLevel, error) {
	return &LogLevel{Level: logging.Level()}, nil
}

// setLogLevel changes verbosity until the next restart
func (h *Handlers) setLogLevel(ctx context.Context, in LogLevelInput) (*LogLevel, error) {
	logging.SetLevel(in.Level)
	log.Info().Str("level", in.Level).Int64("admin_id", rpc.MustUser(ctx).ID).Msg("Log level changed")
	return &LogLevel{Level: logging.Level()}, nil
}

func (h *Handlers) notificationProviders(ctx context.Context, _ struct{}) ([]string, error) {
	if h.notifier == nil {
		return []string{}, nil
	}
	return h.notifier.ListProviders(), nil
}

func (h *Handlers) testNotification(ctx context.Context, in TestNotificationInput) (OK, error) {
	if h.notifier == nil {
		return OK{}, rpc.NotFound("notification provider")
	}
	if !slices.Contains(h.notifier.ListProviders(), in.Provider) {
		return OK{}, rpc.NotFound("notification provider")
	}
	if err := h.notifier.TestProvider(ctx, in.Provider); err != nil {
		return OK{}, rpc.BadRequest("test notification failed: " + err.Error())
	}
	return ok, nil
}
