package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeEntryStatus is the review state of a time entry
type TimeEntryStatus string

const (
	TimeEntryDraft     TimeEntryStatus = "DRAFT"
	TimeEntrySubmitted TimeEntryStatus = "SUBMITTED"
	TimeEntryApproved  TimeEntryStatus = "APPROVED"
	TimeEntryRejected  TimeEntryStatus = "REJECTED"
)

// Editable reports whether an entry in this state may still be changed by its owner
func (s TimeEntryStatus) Editable() bool {
	return s == TimeEntryDraft || s == TimeEntryRejected
}

// TimeEntry records hours a user worked on a project on one day
type TimeEntry struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	UserName    string          `json:"userName,omitempty"`
	ProjectID   int64           `json:"projectId"`
	ProjectName string          `json:"projectName,omitempty"`
	TaskID      *int64          `json:"taskId"`
	Date        string          `json:"date"`
	Hours       decimal.Decimal `json:"hours"`
	Description string          `json:"description"`
	Status      TimeEntryStatus `json:"status"`
	ReviewerID  *int64          `json:"reviewerId"`
	ReviewNote  string          `json:"reviewNote"`
	ReviewedAt  *time.Time      `json:"reviewedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TimeEntryFilter narrows ListTimeEntries. Empty UserIDs means every user.
type TimeEntryFilter struct {
	UserIDs   []int64
	ProjectID *int64
	From      string
	To        string
	Status    TimeEntryStatus
}

// ProjectHours is the total of hours booked on one project
type ProjectHours struct {
	ProjectID   int64           `json:"projectId"`
	ProjectCode string          `json:"projectCode"`
	ProjectName string          `json:"projectName"`
	Hours       decimal.Decimal `json:"hours"`
	Entries     int             `json:"entries"`
}

const timeEntrySelect = `
	SELECT t.id, t.user_id, u.name, t.project_id, p.name, t.task_id, t.date, t.hours, t.description,
		t.status, t.reviewer_id, t.review_note, t.reviewed_at, t.created_at, t.updated_at
	FROM time_entries t
	JOIN users u ON u.id = t.user_id
	JOIN projects p ON p.id = t.project_id
`

func scanTimeEntry(row scanner) (*TimeEntry, error) {
	e := &TimeEntry{}
	var taskID, reviewerID sql.NullInt64
	var reviewedAt sql.NullTime
	err := row.Scan(&e.ID, &e.UserID, &e.UserName, &e.ProjectID, &e.ProjectName, &taskID, &e.Date, &e.Hours,
		&e.Description, &e.Status, &reviewerID, &e.ReviewNote, &reviewedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.TaskID = nullInt64ToPtr(taskID)
	e.ReviewerID = nullInt64ToPtr(reviewerID)
	e.ReviewedAt = nullTimeToPtr(reviewedAt)
	return e, nil
}

// CreateTimeEntry inserts a DRAFT time entry
func (db *DB) CreateTimeEntry(ctx context.Context, e *TimeEntry) error {
	ts := now()
	e.Status = TimeEntryDraft
	result, err := db.exec(ctx, `
		INSERT INTO time_entries (user_id, project_id, task_id, date, hours, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.UserID, e.ProjectID, int64PtrArg(e.TaskID), e.Date, e.Hours.String(), e.Description, e.Status, ts, ts)
	if err != nil {
		return mapConstraint(err, "create time entry")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get time entry id: %w", err)
	}
	e.ID = id
	e.CreatedAt = ts
	e.UpdatedAt = ts
	return nil
}

// GetTimeEntry retrieves a time entry by ID. Returns nil, nil when not found.
func (db *DB) GetTimeEntry(ctx context.Context, id int64) (*TimeEntry, error) {
	e, err := scanTimeEntry(db.queryRow(ctx, timeEntrySelect+" WHERE t.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time entry: %w", err)
	}
	return e, nil
}

func timeEntryWhere(f TimeEntryFilter) (string, []any) {
	var where []string
	var args []any
	if len(f.UserIDs) > 0 {
		where = append(where, "t.user_id IN ("+placeholders(len(f.UserIDs))+")")
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if f.ProjectID != nil {
		where = append(where, "t.project_id = ?")
		args = append(args, *f.ProjectID)
	}
	if f.From != "" {
		where = append(where, "t.date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "t.date <= ?")
		args = append(args, f.To)
	}
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListTimeEntries returns entries matching the filter ordered by date
func (db *DB) ListTimeEntries(ctx context.Context, f TimeEntryFilter) ([]*TimeEntry, error) {
	clause, args := timeEntryWhere(f)
	rows, err := db.query(ctx, timeEntrySelect+clause+" ORDER BY t.date, t.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list time entries: %w", err)
	}
	defer rows.Close()

	entries := []*TimeEntry{}
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateTimeEntry writes the editable fields of e and moves it back to DRAFT
func (db *DB) UpdateTimeEntry(ctx context.Context, e *TimeEntry) error {
	e.UpdatedAt = now()
	e.Status = TimeEntryDraft
	_, err := db.exec(ctx, `
		UPDATE time_entries SET project_id = ?, task_id = ?, date = ?, hours = ?, description = ?,
			status = ?, updated_at = ?
		WHERE id = ?
	`, e.ProjectID, int64PtrArg(e.TaskID), e.Date, e.Hours.String(), e.Description, e.Status, e.UpdatedAt, e.ID)
	if err != nil {
		return mapConstraint(err, "update time entry")
	}
	return nil
}

// DeleteTimeEntry removes a time entry
func (db *DB) DeleteTimeEntry(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM time_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
	}
	return nil
}

// SumHoursForDay totals a user's hours on date, ignoring excludeID (0 for none)
func (db *DB) SumHoursForDay(ctx context.Context, userID int64, date string, excludeID int64) (decimal.Decimal, error) {
	rows, err := db.query(ctx, `
		SELECT hours FROM time_entries WHERE user_id = ? AND date = ? AND id != ?
	`, userID, date, excludeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum hours: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var h decimal.Decimal
		if err := rows.Scan(&h); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan hours: %w", err)
		}
		total = total.Add(h)
	}
	return total, rows.Err()
}

// SubmitTimeEntries moves a user's editable entries in [from, to] to SUBMITTED
func (db *DB) SubmitTimeEntries(ctx context.Context, userID int64, from, to string) (int64, error) {
	result, err := db.exec(ctx, `
		UPDATE time_entries SET status = ?, review_note = '', updated_at = ?
		WHERE user_id = ? AND date >= ? AND date <= ? AND status IN (?, ?)
	`, TimeEntrySubmitted, now(), userID, from, to, TimeEntryDraft, TimeEntryRejected)
	if err != nil {
		return 0, fmt.Errorf("failed to submit time entries: %w", err)
	}
	return result.RowsAffected()
}

// ReviewTimeEntry approves or rejects a SUBMITTED entry.
// Returns false when the entry was not in SUBMITTED state.
func (db *DB) ReviewTimeEntry(ctx context.Context, id, reviewerID int64, status TimeEntryStatus, note string) (bool, error) {
	ts := now()
	result, err := db.exec(ctx, `
		UPDATE time_entries SET status = ?, reviewer_id = ?, review_note = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, reviewerID, note, ts, ts, id, TimeEntrySubmitted)
	if err != nil {
		return false, fmt.Errorf("failed to review time entry: %w", err)
	}
	return affected(result)
}

// SummarizeHours totals hours per project for entries matching the filter
func (db *DB) SummarizeHours(ctx context.Context, f TimeEntryFilter) ([]*ProjectHours, error) {
	clause, args := timeEntryWhere(f)
	rows, err := db.query(ctx, `
		SELECT t.project_id, p.code, p.name, t.hours
		FROM time_entries t
		JOIN projects p ON p.id = t.project_id
	`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize hours: %w", err)
	}
	defer rows.Close()

	byProject := make(map[int64]*ProjectHours)
	for rows.Next() {
		var id int64
		var code, name string
		var hours decimal.Decimal
		if err := rows.Scan(&id, &code, &name, &hours); err != nil {
			return nil, fmt.Errorf("failed to scan hours: %w", err)
		}
		ph, ok := byProject[id]
		if !ok {
			ph = &ProjectHours{ProjectID: id, ProjectCode: code, ProjectName: name, Hours: decimal.Zero}
			byProject[id] = ph
		}
		ph.Hours = ph.Hours.Add(hours)
		ph.Entries++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary := make([]*ProjectHours, 0, len(byProject))
	for _, ph := range byProject {
		summary = append(summary, ph)
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].ProjectName < summary[j].ProjectName
	})
	return summary, nil
}

// CountTimeEntriesByStatus returns the number of entries in the given status
func (db *DB) CountTimeEntriesByStatus(ctx context.Context, status TimeEntryStatus) (int, error) {
	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM time_entries WHERE status = ?", status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count time entries: %w", err)
	}
	return count, nil
}

// placeholders returns n comma separated bind markers
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
