package database

import (
	"context"
	"fmt"
	"time"
)

// Holiday is a company-wide non-working day
type Holiday struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateHoliday inserts a holiday. Returns ErrConflict when the date already has one.
func (db *DB) CreateHoliday(ctx context.Context, h *Holiday) error {
	h.CreatedAt = now()
	result, err := db.exec(ctx, "INSERT INTO holidays (name, date, created_at) VALUES (?, ?, ?)", h.Name, h.Date, h.CreatedAt)
	if err != nil {
		return mapConstraint(err, "create holiday")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get holiday id: %w", err)
	}
	h.ID = id
	return nil
}

// DeleteHoliday removes a holiday. Returns false when it did not exist.
func (db *DB) DeleteHoliday(ctx context.Context, id int64) (bool, error) {
	result, err := db.exec(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete holiday: %w", err)
	}
	return affected(result)
}

// ListHolidays returns holidays within the inclusive range; empty bounds are open
func (db *DB) ListHolidays(ctx context.Context, from, to string) ([]*Holiday, error) {
	q := "SELECT id, name, date, created_at FROM holidays WHERE 1 = 1"
	var args []any
	if from != "" {
		q += " AND date >= ?"
		args = append(args, from)
	}
	if to != "" {
		q += " AND date <= ?"
		args = append(args, to)
	}
	q += " ORDER BY date"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	holidays := []*Holiday{}
	for rows.Next() {
		h := &Holiday{}
		if err := rows.Scan(&h.ID, &h.Name, &h.Date, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// HolidayDates returns the set of holiday dates within the inclusive range
func (db *DB) HolidayDates(ctx context.Context, from, to string) (map[string]bool, error) {
	holidays, err := db.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	dates := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		dates[h.Date] = true
	}
	return dates, nil
}
