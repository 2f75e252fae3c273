package database

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
	// ErrInUse is returned when a delete or insert violates a foreign key.
	ErrInUse = errors.New("record is referenced by other records")
)

// mapConstraint translates SQLite constraint failures into package sentinels while
// keeping the original message for logs.
func mapConstraint(err error, action string) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("failed to %s: %w: %v", action, ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("failed to %s: %w: %v", action, ErrInUse, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
