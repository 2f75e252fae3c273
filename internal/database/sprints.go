package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SprintStatus is the lifecycle state of a sprint
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintCompleted SprintStatus = "COMPLETED"
)

// Sprint is a time-boxed iteration within a project
type Sprint struct {
	ID        int64        `json:"id"`
	ProjectID int64        `json:"projectId"`
	Name      string       `json:"name"`
	Goal      string       `json:"goal"`
	StartDate string       `json:"startDate"`
	EndDate   string       `json:"endDate"`
	Status    SprintStatus `json:"status"`
	TaskCount int          `json:"taskCount"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

const sprintSelect = `
	SELECT s.id, s.project_id, s.name, s.goal, s.start_date, s.end_date, s.status,
		(SELECT COUNT(*) FROM tasks t WHERE t.sprint_id = s.id),
		s.created_at, s.updated_at
	FROM sprints s
`

func scanSprint(row scanner) (*Sprint, error) {
	s := &Sprint{}
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Goal, &s.StartDate, &s.EndDate, &s.Status, &s.TaskCount,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSprint inserts a sprint
func (db *DB) CreateSprint(ctx context.Context, s *Sprint) error {
	ts := now()
	if s.Status == "" {
		s.Status = SprintPlanned
	}
	result, err := db.exec(ctx, `
		INSERT INTO sprints (project_id, name, goal, start_date, end_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ProjectID, s.Name, s.Goal, s.StartDate, s.EndDate, s.Status, ts, ts)
	if err != nil {
		return mapConstraint(err, "create sprint")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sprint id: %w", err)
	}
	s.ID = id
	s.CreatedAt = ts
	s.UpdatedAt = ts
	return nil
}

// GetSprint retrieves a sprint by ID. Returns nil, nil when not found.
func (db *DB) GetSprint(ctx context.Context, id int64) (*Sprint, error) {
	s, err := scanSprint(db.queryRow(ctx, sprintSelect+" WHERE s.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint: %w", err)
	}
	return s, nil
}

// ListSprints returns the sprints of a project ordered by start date
func (db *DB) ListSprints(ctx context.Context, projectID int64) ([]*Sprint, error) {
	rows, err := db.query(ctx, sprintSelect+" WHERE s.project_id = ? ORDER BY s.start_date, s.id", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	defer rows.Close()

	sprints := []*Sprint{}
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sprint: %w", err)
		}
		sprints = append(sprints, s)
	}
	return sprints, rows.Err()
}

// UpdateSprint writes the mutable fields of s
func (db *DB) UpdateSprint(ctx context.Context, s *Sprint) error {
	s.UpdatedAt = now()
	_, err := db.exec(ctx, `
		UPDATE sprints SET name = ?, goal = ?, start_date = ?, end_date = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, s.Goal, s.StartDate, s.EndDate, s.Status, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update sprint: %w", err)
	}
	return nil
}

// DeleteSprint removes a sprint; its tasks return to the backlog
func (db *DB) DeleteSprint(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM sprints WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete sprint: %w", err)
	}
	return nil
}
