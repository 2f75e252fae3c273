package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

// Project is a unit of work that time entries and tasks are booked against
type Project struct {
	ID          int64         `json:"id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	OwnerID     *int64        `json:"ownerId"`
	OwnerName   string        `json:"ownerName,omitempty"`
	StartDate   *string       `json:"startDate"`
	EndDate     *string       `json:"endDate"`
	MemberCount int           `json:"memberCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ProjectMember is a user assigned to a project
type ProjectMember struct {
	UserID  int64     `json:"userId"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"addedAt"`
}

// ProjectFilter narrows ListProjects
type ProjectFilter struct {
	Status   ProjectStatus
	MemberID *int64
	Search   string
}

const projectSelect = `
	SELECT p.id, p.code, p.name, p.description, p.status, p.owner_id, COALESCE(o.name, ''),
		p.start_date, p.end_date,
		(SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = p.id),
		p.created_at, p.updated_at
	FROM projects p
	LEFT JOIN users o ON o.id = p.owner_id
`

func scanProject(row scanner) (*Project, error) {
	p := &Project{}
	var ownerID sql.NullInt64
	var start, end sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Status, &ownerID, &p.OwnerName,
		&start, &end, &p.MemberCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.OwnerID = nullInt64ToPtr(ownerID)
	p.StartDate = nullStringToPtr(start)
	p.EndDate = nullStringToPtr(end)
	return p, nil
}

// CreateProject inserts a project. Returns ErrConflict for a duplicate code.
func (db *DB) CreateProject(ctx context.Context, p *Project) error {
	ts := now()
	if p.Status == "" {
		p.Status = ProjectActive
	}
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))

	result, err := db.exec(ctx, `
		INSERT INTO projects (code, name, description, status, owner_id, start_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Code, p.Name, p.Description, p.Status, int64PtrArg(p.OwnerID), stringPtrArg(p.StartDate), stringPtrArg(p.EndDate), ts, ts)
	if err != nil {
		return mapConstraint(err, "create project")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get project id: %w", err)
	}
	p.ID = id
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return nil
}

// GetProject retrieves a project by ID. Returns nil, nil when not found.
func (db *DB) GetProject(ctx context.Context, id int64) (*Project, error) {
	p, err := scanProject(db.queryRow(ctx, projectSelect+" WHERE p.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects matching the filter ordered by name
func (db *DB) ListProjects(ctx context.Context, f ProjectFilter) ([]*Project, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.MemberID != nil {
		where = append(where, "EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)")
		args = append(args, *f.MemberID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(p.name LIKE ? OR p.code LIKE ?)")
		args = append(args, "%"+s+"%", "%"+s+"%")
	}

	q := projectSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY p.name, p.id"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject writes the mutable fields of p
func (db *DB) UpdateProject(ctx context.Context, p *Project) error {
	p.UpdatedAt = now()
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	_, err := db.exec(ctx, `
		UPDATE projects SET code = ?, name = ?, description = ?, status = ?, owner_id = ?,
			start_date = ?, end_date = ?, updated_at = ?
		WHERE id = ?
	`, p.Code, p.Name, p.Description, p.Status, int64PtrArg(p.OwnerID), stringPtrArg(p.StartDate),
		stringPtrArg(p.EndDate), p.UpdatedAt, p.ID)
	if err != nil {
		return mapConstraint(err, "update project")
	}
	return nil
}

// DeleteProject removes a project. Returns ErrInUse when time entries reference it.
func (db *DB) DeleteProject(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return mapConstraint(err, "delete project")
	}
	return nil
}

// AddProjectMember adds a user to a project; adding an existing member is a no-op
func (db *DB) AddProjectMember(ctx context.Context, projectID, userID int64) error {
	_, err := db.exec(ctx, `
		INSERT OR IGNORE INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)
	`, projectID, userID, now())
	if err != nil {
		return mapConstraint(err, "add project member")
	}
	return nil
}

// RemoveProjectMember removes a user from a project
func (db *DB) RemoveProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	result, err := db.exec(ctx, "DELETE FROM project_members WHERE project_id = ? AND user_id = ?", projectID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove project member: %w", err)
	}
	return affected(result)
}

// IsProjectMember reports whether userID is assigned to projectID
func (db *DB) IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var count int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM project_members WHERE project_id = ? AND user_id = ?", projectID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check project member: %w", err)
	}
	return count > 0, nil
}

// ListProjectMembers returns the members of a project ordered by name
func (db *DB) ListProjectMembers(ctx context.Context, projectID int64) ([]*ProjectMember, error) {
	rows, err := db.query(ctx, `
		SELECT u.id, u.name, u.email, u.role, pm.added_at
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = ?
		ORDER BY u.name, u.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	members := []*ProjectMember{}
	for rows.Next() {
		m := &ProjectMember{}
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountProjectsByStatus returns the number of projects in the given status
func (db *DB) CountProjectsByStatus(ctx context.Context, status ProjectStatus) (int, error) {
	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM projects WHERE status = ?", status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}
