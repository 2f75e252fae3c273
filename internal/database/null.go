package database

import (
	"database/sql"
	"time"
)

// nullInt64ToPtr converts a sql.NullInt64 to a pointer (nil if not valid)
func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if n.Valid {
		return &n.Int64
	}
	return nil
}

// nullTimeToPtr converts a sql.NullTime to a pointer (nil if not valid)
func nullTimeToPtr(n sql.NullTime) *time.Time {
	if n.Valid {
		t := n.Time
		return &t
	}
	return nil
}

// nullStringToPtr converts a sql.NullString to a pointer (nil if not valid or empty)
func nullStringToPtr(n sql.NullString) *string {
	if n.Valid && n.String != "" {
		return &n.String
	}
	return nil
}

// int64PtrArg turns an optional id into a driver argument (NULL when nil)
func int64PtrArg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// stringPtrArg turns an optional string into a driver argument (NULL when nil or empty)
func stringPtrArg(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

// now returns the current time in UTC so stored timestamps compare lexically.
func now() time.Time {
	return time.Now().UTC()
}
