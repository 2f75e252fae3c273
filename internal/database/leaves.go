package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LeaveStatus is the review state of a leave request
type LeaveStatus string

const (
	LeavePending   LeaveStatus = "PENDING"
	LeaveApproved  LeaveStatus = "APPROVED"
	LeaveRejected  LeaveStatus = "REJECTED"
	LeaveCancelled LeaveStatus = "CANCELLED"
)

// LeaveType is a category of absence such as annual or sick leave
type LeaveType struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	DefaultDays decimal.Decimal `json:"defaultDays"`
	Paid        bool            `json:"paid"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// LeaveBalance is a user's allowance of one leave type for one year
type LeaveBalance struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	UserName      string          `json:"userName,omitempty"`
	LeaveTypeID   int64           `json:"leaveTypeId"`
	LeaveTypeName string          `json:"leaveTypeName"`
	Paid          bool            `json:"paid"`
	Year          int             `json:"year"`
	Allocated     decimal.Decimal `json:"allocated"`
	Used          decimal.Decimal `json:"used"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Remaining returns the unused part of the allocation
func (b *LeaveBalance) Remaining() decimal.Decimal {
	return b.Allocated.Sub(b.Used)
}

// LeaveRequest is a request for absence over an inclusive date range
type LeaveRequest struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	UserName      string          `json:"userName,omitempty"`
	LeaveTypeID   int64           `json:"leaveTypeId"`
	LeaveTypeName string          `json:"leaveTypeName"`
	StartDate     string          `json:"startDate"`
	EndDate       string          `json:"endDate"`
	HalfDay       bool            `json:"halfDay"`
	Days          decimal.Decimal `json:"days"`
	Reason        string          `json:"reason"`
	Status        LeaveStatus     `json:"status"`
	ReviewerID    *int64          `json:"reviewerId"`
	ReviewNote    string          `json:"reviewNote"`
	ReviewedAt    *time.Time      `json:"reviewedAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// LeaveRequestFilter narrows ListLeaveRequests. Empty UserIDs means every user.
type LeaveRequestFilter struct {
	UserIDs []int64
	Status  LeaveStatus
	// From and To select requests overlapping the inclusive range
	From string
	To   string
}

// Leave types

// CreateLeaveType inserts a leave type. Returns ErrConflict for a duplicate name.
func (db *DB) CreateLeaveType(ctx context.Context, lt *LeaveType) error {
	lt.CreatedAt = now()
	result, err := db.exec(ctx, `
		INSERT INTO leave_types (name, default_days, paid, active, created_at) VALUES (?, ?, ?, ?, ?)
	`, lt.Name, lt.DefaultDays.String(), lt.Paid, lt.Active, lt.CreatedAt)
	if err != nil {
		return mapConstraint(err, "create leave type")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get leave type id: %w", err)
	}
	lt.ID = id
	return nil
}

// GetLeaveType retrieves a leave type by ID. Returns nil, nil when not found.
func (db *DB) GetLeaveType(ctx context.Context, id int64) (*LeaveType, error) {
	lt := &LeaveType{}
	err := db.queryRow(ctx, `
		SELECT id, name, default_days, paid, active, created_at FROM leave_types WHERE id = ?
	`, id).Scan(&lt.ID, &lt.Name, &lt.DefaultDays, &lt.Paid, &lt.Active, &lt.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave type: %w", err)
	}
	return lt, nil
}

// ListLeaveTypes returns leave types ordered by name
func (db *DB) ListLeaveTypes(ctx context.Context, activeOnly bool) ([]*LeaveType, error) {
	q := "SELECT id, name, default_days, paid, active, created_at FROM leave_types"
	if activeOnly {
		q += " WHERE active = true"
	}
	q += " ORDER BY name"

	rows, err := db.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	defer rows.Close()

	types := []*LeaveType{}
	for rows.Next() {
		lt := &LeaveType{}
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.DefaultDays, &lt.Paid, &lt.Active, &lt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leave type: %w", err)
		}
		types = append(types, lt)
	}
	return types, rows.Err()
}

// UpdateLeaveType writes the mutable fields of lt
func (db *DB) UpdateLeaveType(ctx context.Context, lt *LeaveType) error {
	_, err := db.exec(ctx, `
		UPDATE leave_types SET name = ?, default_days = ?, paid = ?, active = ? WHERE id = ?
	`, lt.Name, lt.DefaultDays.String(), lt.Paid, lt.Active, lt.ID)
	if err != nil {
		return mapConstraint(err, "update leave type")
	}
	return nil
}

// DeleteLeaveType removes a leave type. Returns ErrInUse when requests reference it.
func (db *DB) DeleteLeaveType(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM leave_types WHERE id = ?", id); err != nil {
		return mapConstraint(err, "delete leave type")
	}
	return nil
}

// Leave balances

const leaveBalanceSelect = `
	SELECT b.id, b.user_id, u.name, b.leave_type_id, lt.name, lt.paid, b.year, b.allocated, b.used, b.updated_at
	FROM leave_balances b
	JOIN users u ON u.id = b.user_id
	JOIN leave_types lt ON lt.id = b.leave_type_id
`

func scanLeaveBalance(row scanner) (*LeaveBalance, error) {
	b := &LeaveBalance{}
	err := row.Scan(&b.ID, &b.UserID, &b.UserName, &b.LeaveTypeID, &b.LeaveTypeName, &b.Paid, &b.Year,
		&b.Allocated, &b.Used, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetLeaveBalance retrieves the balance for (user, type, year). Returns nil, nil when not found.
func (db *DB) GetLeaveBalance(ctx context.Context, userID, leaveTypeID int64, year int) (*LeaveBalance, error) {
	b, err := scanLeaveBalance(db.queryRow(ctx, leaveBalanceSelect+`
		WHERE b.user_id = ? AND b.leave_type_id = ? AND b.year = ?
	`, userID, leaveTypeID, year))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave balance: %w", err)
	}
	return b, nil
}

// ListLeaveBalances returns balances, optionally narrowed to a user and/or year
func (db *DB) ListLeaveBalances(ctx context.Context, userID *int64, year int) ([]*LeaveBalance, error) {
	var where []string
	var args []any
	if userID != nil {
		where = append(where, "b.user_id = ?")
		args = append(args, *userID)
	}
	if year > 0 {
		where = append(where, "b.year = ?")
		args = append(args, year)
	}
	q := leaveBalanceSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY u.name, b.year DESC, lt.name"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave balances: %w", err)
	}
	defer rows.Close()

	balances := []*LeaveBalance{}
	for rows.Next() {
		b, err := scanLeaveBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leave balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// SetLeaveAllocation upserts the allocation for (user, type, year) keeping used days
func (db *DB) SetLeaveAllocation(ctx context.Context, userID, leaveTypeID int64, year int, allocated decimal.Decimal) error {
	_, err := db.exec(ctx, `
		INSERT INTO leave_balances (user_id, leave_type_id, year, allocated, used, updated_at)
		VALUES (?, ?, ?, ?, '0', ?)
		ON CONFLICT(user_id, leave_type_id, year) DO UPDATE SET allocated = excluded.allocated, updated_at = excluded.updated_at
	`, userID, leaveTypeID, year, allocated.String(), now())
	if err != nil {
		return mapConstraint(err, "set leave allocation")
	}
	return nil
}

// EnsureLeaveBalance creates the balance row with the given allocation if it is missing.
// Returns true when a row was created.
func (db *DB) EnsureLeaveBalance(ctx context.Context, userID, leaveTypeID int64, year int, allocated decimal.Decimal) (bool, error) {
	result, err := db.exec(ctx, `
		INSERT OR IGNORE INTO leave_balances (user_id, leave_type_id, year, allocated, used, updated_at)
		VALUES (?, ?, ?, ?, '0', ?)
	`, userID, leaveTypeID, year, allocated.String(), now())
	if err != nil {
		return false, mapConstraint(err, "ensure leave balance")
	}
	return affected(result)
}

// ProvisionLeaveBalances ensures every active leave type has a balance for the user and year,
// allocated from the type's default days. Returns the number of rows created.
func (db *DB) ProvisionLeaveBalances(ctx context.Context, userID int64, year int) (int, error) {
	types, err := db.ListLeaveTypes(ctx, true)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, lt := range types {
		ok, err := db.EnsureLeaveBalance(ctx, userID, lt.ID, year, lt.DefaultDays)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// AdjustLeaveBalanceUsed adds delta (may be negative) to the used days of a balance
func (db *DB) AdjustLeaveBalanceUsed(ctx context.Context, balanceID int64, delta decimal.Decimal) error {
	var used decimal.Decimal
	if err := db.queryRow(ctx, "SELECT used FROM leave_balances WHERE id = ?", balanceID).Scan(&used); err != nil {
		return fmt.Errorf("failed to read leave balance: %w", err)
	}
	used = used.Add(delta)
	if used.IsNegative() {
		used = decimal.Zero
	}
	_, err := db.exec(ctx, "UPDATE leave_balances SET used = ?, updated_at = ? WHERE id = ?", used.String(), now(), balanceID)
	if err != nil {
		return fmt.Errorf("failed to update leave balance: %w", err)
	}
	return nil
}

// Leave requests

const leaveRequestSelect = `
	SELECT r.id, r.user_id, u.name, r.leave_type_id, lt.name, r.start_date, r.end_date, r.half_day, r.days,
		r.reason, r.status, r.reviewer_id, r.review_note, r.reviewed_at, r.created_at, r.updated_at
	FROM leave_requests r
	JOIN users u ON u.id = r.user_id
	JOIN leave_types lt ON lt.id = r.leave_type_id
`

func scanLeaveRequest(row scanner) (*LeaveRequest, error) {
	r := &LeaveRequest{}
	var reviewerID sql.NullInt64
	var reviewedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.UserName, &r.LeaveTypeID, &r.LeaveTypeName, &r.StartDate, &r.EndDate,
		&r.HalfDay, &r.Days, &r.Reason, &r.Status, &reviewerID, &r.ReviewNote, &reviewedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.ReviewerID = nullInt64ToPtr(reviewerID)
	r.ReviewedAt = nullTimeToPtr(reviewedAt)
	return r, nil
}

// CreateLeaveRequest inserts a PENDING leave request
func (db *DB) CreateLeaveRequest(ctx context.Context, r *LeaveRequest) error {
	ts := now()
	r.Status = LeavePending
	result, err := db.exec(ctx, `
		INSERT INTO leave_requests (user_id, leave_type_id, start_date, end_date, half_day, days, reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UserID, r.LeaveTypeID, r.StartDate, r.EndDate, r.HalfDay, r.Days.String(), r.Reason, r.Status, ts, ts)
	if err != nil {
		return mapConstraint(err, "create leave request")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get leave request id: %w", err)
	}
	r.ID = id
	r.CreatedAt = ts
	r.UpdatedAt = ts
	return nil
}

// GetLeaveRequest retrieves a leave request by ID. Returns nil, nil when not found.
func (db *DB) GetLeaveRequest(ctx context.Context, id int64) (*LeaveRequest, error) {
	r, err := scanLeaveRequest(db.queryRow(ctx, leaveRequestSelect+" WHERE r.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave request: %w", err)
	}
	return r, nil
}

// ListLeaveRequests returns requests matching the filter, latest start first
func (db *DB) ListLeaveRequests(ctx context.Context, f LeaveRequestFilter) ([]*LeaveRequest, error) {
	var where []string
	var args []any
	if len(f.UserIDs) > 0 {
		where = append(where, "r.user_id IN ("+placeholders(len(f.UserIDs))+")")
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, f.Status)
	}
	if f.From != "" {
		where = append(where, "r.end_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "r.start_date <= ?")
		args = append(args, f.To)
	}

	q := leaveRequestSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.start_date DESC, r.id DESC"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave requests: %w", err)
	}
	defer rows.Close()

	requests := []*LeaveRequest{}
	for rows.Next() {
		r, err := scanLeaveRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leave request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// HasOverlappingLeave reports whether the user has a PENDING or APPROVED request
// intersecting [start, end]
func (db *DB) HasOverlappingLeave(ctx context.Context, userID int64, start, end string) (bool, error) {
	var count int
	err := db.queryRow(ctx, `
		SELECT COUNT(*) FROM leave_requests
		WHERE user_id = ? AND status IN (?, ?) AND start_date <= ? AND end_date >= ?
	`, userID, LeavePending, LeaveApproved, end, start).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check overlapping leave: %w", err)
	}
	return count > 0, nil
}

// TransitionLeaveRequest moves a request from one status to another, recording the reviewer.
// Returns false when the request was no longer in the expected status.
func (db *DB) TransitionLeaveRequest(ctx context.Context, id int64, from, to LeaveStatus, reviewerID *int64, note string) (bool, error) {
	ts := now()
	var result sql.Result
	var err error
	if reviewerID != nil {
		result, err = db.exec(ctx, `
			UPDATE leave_requests SET status = ?, reviewer_id = ?, review_note = ?, reviewed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, to, *reviewerID, note, ts, ts, id, from)
	} else {
		result, err = db.exec(ctx, `
			UPDATE leave_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`, to, ts, id, from)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update leave request: %w", err)
	}
	return affected(result)
}

// CountLeaveRequestsByStatus returns the number of requests in the given status
func (db *DB) CountLeaveRequestsByStatus(ctx context.Context, status LeaveStatus) (int, error) {
	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM leave_requests WHERE status = ?", status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count leave requests: %w", err)
	}
	return count, nil
}
