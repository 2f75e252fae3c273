package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Role is a user's authorization level
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// CanManage reports whether the role may approve and supervise other users' work
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleManager
}

// User represents an employee account
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	ManagerID    *int64    `json:"managerId"`
	ManagerName  string    `json:"managerName,omitempty"`
	Department   string    `json:"department"`
	Position     string    `json:"position"`
	Phone        string    `json:"phone"`
	HireDate     *string   `json:"hireDate"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserFilter narrows ListUsers
type UserFilter struct {
	Role      Role
	Active    *bool
	ManagerID *int64
	Search    string
	Limit     int
	Offset    int
}

const userSelect = `
	SELECT u.id, u.email, u.password_hash, u.name, u.role, u.manager_id, COALESCE(m.name, ''),
		u.department, u.position, u.phone, u.hire_date, u.active, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN users m ON m.id = u.manager_id
`

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var managerID sql.NullInt64
	var hireDate sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &managerID, &u.ManagerName,
		&u.Department, &u.Position, &u.Phone, &hireDate, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.ManagerID = nullInt64ToPtr(managerID)
	u.HireDate = nullStringToPtr(hireDate)
	return u, nil
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user record. Returns ErrConflict for a duplicate email.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	ts := now()
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = RoleEmployee
	}

	result, err := db.exec(ctx, `
		INSERT INTO users (email, password_hash, name, role, manager_id, department, position, phone, hire_date, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Email, u.PasswordHash, u.Name, u.Role, int64PtrArg(u.ManagerID), u.Department, u.Position, u.Phone,
		stringPtrArg(u.HireDate), u.Active, ts, ts)
	if err != nil {
		return mapConstraint(err, "create user")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = ts
	u.UpdatedAt = ts
	return nil
}

// GetUserByID retrieves a user by ID. Returns nil, nil when not found.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(db.queryRow(ctx, userSelect+" WHERE u.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email. Returns nil, nil when not found.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(db.queryRow(ctx, userSelect+" WHERE u.email = ?", NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns users matching the filter along with the total match count
func (db *DB) ListUsers(ctx context.Context, f UserFilter) ([]*User, int, error) {
	var where []string
	var args []any

	if f.Role != "" {
		where = append(where, "u.role = ?")
		args = append(args, f.Role)
	}
	if f.Active != nil {
		where = append(where, "u.active = ?")
		args = append(args, *f.Active)
	}
	if f.ManagerID != nil {
		where = append(where, "u.manager_id = ?")
		args = append(args, *f.ManagerID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(u.name LIKE ? OR u.email LIKE ? OR u.department LIKE ?)")
		like := "%" + s + "%"
		args = append(args, like, like, like)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM users u"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	q := userSelect + clause + " ORDER BY u.name, u.id"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// UpdateUser writes every mutable profile field of u
func (db *DB) UpdateUser(ctx context.Context, u *User) error {
	u.UpdatedAt = now()
	_, err := db.exec(ctx, `
		UPDATE users SET name = ?, role = ?, manager_id = ?, department = ?, position = ?, phone = ?,
			hire_date = ?, updated_at = ?
		WHERE id = ?
	`, u.Name, u.Role, int64PtrArg(u.ManagerID), u.Department, u.Position, u.Phone,
		stringPtrArg(u.HireDate), u.UpdatedAt, u.ID)
	if err != nil {
		return mapConstraint(err, "update user")
	}
	return nil
}

// UpdateUserPassword updates the user's password hash
func (db *DB) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := db.exec(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
	`, passwordHash, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SetUserActive activates or deactivates an account
func (db *DB) SetUserActive(ctx context.Context, userID int64, active bool) error {
	_, err := db.exec(ctx, `UPDATE users SET active = ?, updated_at = ? WHERE id = ?`, active, now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

// ListDirectReports returns every user whose manager is managerID
func (db *DB) ListDirectReports(ctx context.Context, managerID int64) ([]*User, error) {
	users, _, err := db.ListUsers(ctx, UserFilter{ManagerID: &managerID})
	return users, err
}

// DirectReportIDs returns the ids of users whose manager is managerID
func (db *DB) DirectReportIDs(ctx context.Context, managerID int64) ([]int64, error) {
	return db.queryIDs(ctx, "SELECT id FROM users WHERE manager_id = ? ORDER BY id", managerID)
}

// ActiveUserIDs returns the ids of all active users
func (db *DB) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	return db.queryIDs(ctx, "SELECT id FROM users WHERE active = true ORDER BY id")
}

// AdminIDs returns the ids of all active admins
func (db *DB) AdminIDs(ctx context.Context) ([]int64, error) {
	return db.queryIDs(ctx, "SELECT id FROM users WHERE active = true AND role = ? ORDER BY id", RoleAdmin)
}

// IsManagerOf reports whether managerID is userID's direct manager
func (db *DB) IsManagerOf(ctx context.Context, managerID, userID int64) (bool, error) {
	var count int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM users WHERE id = ? AND manager_id = ?", userID, managerID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check manager: %w", err)
	}
	return count > 0, nil
}

// CountUsers returns the number of user accounts
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (db *DB) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
