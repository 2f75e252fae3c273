package config

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Runtime settings keys stored in the settings table.
const (
	SettingResetTokenTTLMinutes      = "auth.reset_token_ttl_minutes"
	SettingNotificationRetentionDays = "notifications.retention_days"
	SettingMaxDailyHours             = "timesheet.max_daily_hours"
	SettingWeekStart                 = "calendar.week_start"
	SettingProvisionOnCreate         = "leave.provision_on_user_create"
)

// SettingsGetter is an interface for retrieving settings from storage
type SettingsGetter interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Loader provides typed access to settings with default values.
// Values are stored as JSON, so strings arrive quoted.
type Loader struct {
	ctx context.Context
	db  SettingsGetter
}

// NewLoader creates a new settings loader
func NewLoader(ctx context.Context, db SettingsGetter) *Loader {
	return &Loader{ctx: ctx, db: db}
}

func (l *Loader) raw(key string) string {
	if l == nil || l.db == nil {
		return ""
	}
	val, _ := l.db.GetSetting(l.ctx, key)
	return strings.Trim(val, `"`)
}

// Int retrieves an integer setting, returning defaultVal if not found or invalid
func (l *Loader) Int(key string, defaultVal int) int {
	if val := l.raw(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting, returning defaultVal if not found
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val := l.raw(key); val != "" {
		return val == "true"
	}
	return defaultVal
}

// String retrieves a string setting, returning defaultVal if not found or empty
func (l *Loader) String(key, defaultVal string) string {
	if val := l.raw(key); val != "" {
		return val
	}
	return defaultVal
}

// DurationMinutes retrieves a duration setting stored as minutes
func (l *Loader) DurationMinutes(key string, defaultMinutes int) time.Duration {
	return time.Duration(l.Int(key, defaultMinutes)) * time.Minute
}

// DurationDays retrieves a duration setting stored as days
func (l *Loader) DurationDays(key string, defaultDays int) time.Duration {
	return time.Duration(l.Int(key, defaultDays)) * 24 * time.Hour
}
