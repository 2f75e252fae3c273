package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus is the workflow column of a task
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskDone       TaskStatus = "DONE"
)

// TaskPriority orders tasks within a column
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// Task is a unit of work inside a project, optionally planned into a sprint
type Task struct {
	ID            int64               `json:"id"`
	ProjectID     int64               `json:"projectId"`
	ProjectName   string              `json:"projectName,omitempty"`
	SprintID      *int64              `json:"sprintId"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Status        TaskStatus          `json:"status"`
	Priority      TaskPriority        `json:"priority"`
	AssigneeID    *int64              `json:"assigneeId"`
	AssigneeName  string              `json:"assigneeName,omitempty"`
	ReporterID    int64               `json:"reporterId"`
	ReporterName  string              `json:"reporterName,omitempty"`
	EstimateHours decimal.NullDecimal `json:"estimateHours"`
	DueDate       *string             `json:"dueDate"`
	CommentCount  int                 `json:"commentCount"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// TaskComment is a discussion entry on a task
type TaskComment struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"taskId"`
	AuthorID   int64     `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TaskFilter narrows ListTasks
type TaskFilter struct {
	ProjectID  *int64
	ProjectIDs []int64
	SprintID   *int64
	AssigneeID *int64
	Status     TaskStatus
	OpenOnly   bool
}

const taskSelect = `
	SELECT t.id, t.project_id, p.name, t.sprint_id, t.title, t.description, t.status, t.priority,
		t.assignee_id, COALESCE(a.name, ''), t.reporter_id, COALESCE(r.name, ''), t.estimate_hours, t.due_date,
		(SELECT COUNT(*) FROM task_comments c WHERE c.task_id = t.id),
		t.created_at, t.updated_at
	FROM tasks t
	JOIN projects p ON p.id = t.project_id
	LEFT JOIN users a ON a.id = t.assignee_id
	LEFT JOIN users r ON r.id = t.reporter_id
`

func scanTask(row scanner) (*Task, error) {
	t := &Task{}
	var sprintID, assigneeID sql.NullInt64
	var dueDate sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.ProjectName, &sprintID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&assigneeID, &t.AssigneeName, &t.ReporterID, &t.ReporterName, &t.EstimateHours, &dueDate, &t.CommentCount,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.SprintID = nullInt64ToPtr(sprintID)
	t.AssigneeID = nullInt64ToPtr(assigneeID)
	t.DueDate = nullStringToPtr(dueDate)
	return t, nil
}

func estimateArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// CreateTask inserts a task
func (db *DB) CreateTask(ctx context.Context, t *Task) error {
	ts := now()
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	result, err := db.exec(ctx, `
		INSERT INTO tasks (project_id, sprint_id, title, description, status, priority, assignee_id, reporter_id,
			estimate_hours, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ProjectID, int64PtrArg(t.SprintID), t.Title, t.Description, t.Status, t.Priority, int64PtrArg(t.AssigneeID),
		t.ReporterID, estimateArg(t.EstimateHours), stringPtrArg(t.DueDate), ts, ts)
	if err != nil {
		return mapConstraint(err, "create task")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task id: %w", err)
	}
	t.ID = id
	t.CreatedAt = ts
	t.UpdatedAt = ts
	return nil
}

// GetTask retrieves a task by ID. Returns nil, nil when not found.
func (db *DB) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(db.queryRow(ctx, taskSelect+" WHERE t.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks matching the filter, most urgent first
func (db *DB) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var where []string
	var args []any
	if f.ProjectID != nil {
		where = append(where, "t.project_id = ?")
		args = append(args, *f.ProjectID)
	}
	if f.ProjectIDs != nil {
		if len(f.ProjectIDs) == 0 {
			return []*Task{}, nil
		}
		where = append(where, "t.project_id IN ("+placeholders(len(f.ProjectIDs))+")")
		for _, id := range f.ProjectIDs {
			args = append(args, id)
		}
	}
	if f.SprintID != nil {
		where = append(where, "t.sprint_id = ?")
		args = append(args, *f.SprintID)
	}
	if f.AssigneeID != nil {
		where = append(where, "t.assignee_id = ?")
		args = append(args, *f.AssigneeID)
	}
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.OpenOnly {
		where = append(where, "t.status != ?")
		args = append(args, TaskDone)
	}

	q := taskSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY CASE t.priority WHEN 'URGENT' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END,
		t.due_date IS NULL, t.due_date, t.id`

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask writes the mutable fields of t
func (db *DB) UpdateTask(ctx context.Context, t *Task) error {
	t.UpdatedAt = now()
	_, err := db.exec(ctx, `
		UPDATE tasks SET sprint_id = ?, title = ?, description = ?, status = ?, priority = ?, assignee_id = ?,
			estimate_hours = ?, due_date = ?, updated_at = ?
		WHERE id = ?
	`, int64PtrArg(t.SprintID), t.Title, t.Description, t.Status, t.Priority, int64PtrArg(t.AssigneeID),
		estimateArg(t.EstimateHours), stringPtrArg(t.DueDate), t.UpdatedAt, t.ID)
	if err != nil {
		return mapConstraint(err, "update task")
	}
	return nil
}

// UpdateTaskStatus moves a task to another column
func (db *DB) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus) error {
	if _, err := db.exec(ctx, "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", status, now(), id); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// AssignTask sets or clears the assignee of a task
func (db *DB) AssignTask(ctx context.Context, id int64, assigneeID *int64) error {
	_, err := db.exec(ctx, "UPDATE tasks SET assignee_id = ?, updated_at = ? WHERE id = ?", int64PtrArg(assigneeID), now(), id)
	if err != nil {
		return mapConstraint(err, "assign task")
	}
	return nil
}

// DeleteTask removes a task and its comments
func (db *DB) DeleteTask(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Comments

// AddTaskComment inserts a comment
func (db *DB) AddTaskComment(ctx context.Context, c *TaskComment) error {
	c.CreatedAt = now()
	result, err := db.exec(ctx, `
		INSERT INTO task_comments (task_id, author_id, body, created_at) VALUES (?, ?, ?, ?)
	`, c.TaskID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return mapConstraint(err, "add task comment")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get comment id: %w", err)
	}
	c.ID = id
	return nil
}

// GetTaskComment retrieves a comment by ID. Returns nil, nil when not found.
func (db *DB) GetTaskComment(ctx context.Context, id int64) (*TaskComment, error) {
	c := &TaskComment{}
	err := db.queryRow(ctx, `
		SELECT c.id, c.task_id, c.author_id, u.name, c.body, c.created_at
		FROM task_comments c JOIN users u ON u.id = c.author_id
		WHERE c.id = ?
	`, id).Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return c, nil
}

// ListTaskComments returns a task's comments oldest first
func (db *DB) ListTaskComments(ctx context.Context, taskID int64) ([]*TaskComment, error) {
	rows, err := db.query(ctx, `
		SELECT c.id, c.task_id, c.author_id, u.name, c.body, c.created_at
		FROM task_comments c JOIN users u ON u.id = c.author_id
		WHERE c.task_id = ?
		ORDER BY c.created_at, c.id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []*TaskComment{}
	for rows.Next() {
		c := &TaskComment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteTaskComment removes a comment
func (db *DB) DeleteTaskComment(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, "DELETE FROM task_comments WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}
