package handlers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
)

type ProjectIDInput struct {
	ProjectID int64 `json:"projectId" validate:"required,gt=0"`
}

type SprintInput struct {
	ProjectID int64                 `json:"projectId" validate:"required,gt=0"`
	Name      string                `json:"name" validate:"required,max=100"`
	Goal      string                `json:"goal" validate:"max=1000"`
	StartDate string                `json:"startDate" validate:"required,date"`
	EndDate   string                `json:"endDate" validate:"required,date"`
	Status    database.SprintStatus `json:"status" validate:"omitempty,oneof=PLANNED ACTIVE COMPLETED"`
}

type UpdateSprintInput struct {
	ID        int64                 `json:"id" validate:"required,gt=0"`
	Name      string                `json:"name" validate:"required,max=100"`
	Goal      string                `json:"goal" validate:"max=1000"`
	StartDate string                `json:"startDate" validate:"required,date"`
	EndDate   string                `json:"endDate" validate:"required,date"`
	Status    database.SprintStatus `json:"status" validate:"required,oneof=PLANNED ACTIVE COMPLETED"`
}

type ListTasksInput struct {
	ProjectID  *int64              `json:"projectId" validate:"omitempty,gt=0"`
	SprintID   *int64              `json:"sprintId" validate:"omitempty,gt=0"`
	AssigneeID *int64              `json:"assigneeId" validate:"omitempty,gt=0"`
	Status     database.TaskStatus `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS IN_REVIEW DONE"`
}

type TaskDetail struct {
	*database.Task
	Comments []*database.TaskComment `json:"comments"`
}

type TaskInput struct {
	ProjectID     int64                 `json:"projectId" validate:"required,gt=0"`
	SprintID      *int64                `json:"sprintId" validate:"omitempty,gt=0"`
	Title         string                `json:"title" validate:"required,max=200"`
	Description   string                `json:"description" validate:"max=5000"`
	Priority      database.TaskPriority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssigneeID    *int64                `json:"assigneeId" validate:"omitempty,gt=0"`
	EstimateHours decimal.NullDecimal   `json:"estimateHours"`
	DueDate       *string               `json:"dueDate" validate:"omitempty,date"`
}

type UpdateTaskInput struct {
	ID            int64                 `json:"id" validate:"required,gt=0"`
	SprintID      *int64                `json:"sprintId" validate:"omitempty,gt=0"`
	Title         string                `json:"title" validate:"required,max=200"`
	Description   string                `json:"description" validate:"max=5000"`
	Status        database.TaskStatus   `json:"status" validate:"required,oneof=TODO IN_PROGRESS IN_REVIEW DONE"`
	Priority      database.TaskPriority `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	EstimateHours decimal.NullDecimal   `json:"estimateHours"`
	DueDate       *string               `json:"dueDate" validate:"omitempty,date"`
}

type TaskStatusInput struct {
	ID     int64               `json:"id" validate:"required,gt=0"`
	Status database.TaskStatus `json:"status" validate:"required,oneof=TODO IN_PROGRESS IN_REVIEW DONE"`
}

type AssignTaskInput struct {
	ID         int64  `json:"id" validate:"required,gt=0"`
	AssigneeID *int64 `json:"assigneeId" validate:"omitempty,gt=0"`
}

type CommentInput struct {
	TaskID int64  `json:"taskId" validate:"required,gt=0"`
	Body   string `json:"body" validate:"required,max=5000"`
}

func (h *Handlers) registerTasks(r *rpc.Router) {
	rpc.Query(r, "sprint.list", rpc.Authenticated, h.listSprints)
	rpc.Mutation(r, "sprint.create", managers, h.createSprint)
	rpc.Mutation(r, "sprint.update", managers, h.updateSprint)
	rpc.Mutation(r, "sprint.delete", managers, h.deleteSprint)

	rpc.Query(r, "task.list", rpc.Authenticated, h.listTasks)
	rpc.Query(r, "task.get", rpc.Authenticated, h.getTask)
	rpc.Mutation(r, "task.create", rpc.Authenticated, h.createTask)
	rpc.Mutation(r, "task.update", rpc.Authenticated, h.updateTask)
	rpc.Mutation(r, "task.updateStatus", rpc.Authenticated, h.updateTaskStatus)
	rpc.Mutation(r, "task.assign", managers, h.assignTask)
	rpc.Mutation(r, "task.delete", managers, h.deleteTask)
	rpc.Query(r, "task.mine", rpc.Authenticated, h.myTasks)
	rpc.Mutation(r, "task.addComment", rpc.Authenticated, h.addComment)
	rpc.Mutation(r, "task.deleteComment", rpc.Authenticated, h.deleteComment)
}

// managesProject reports whether user runs the project's board: admins, and
// managers who own the project or belong to it
func (h *Handlers) managesProject(ctx context.Context, user *database.User, p *database.Project) (bool, error) {
	switch user.Role {
	case database.RoleAdmin:
		return true, nil
	case database.RoleManager:
		if p.OwnerID != nil && *p.OwnerID == user.ID {
			return true, nil
		}
		return h.db.IsProjectMember(ctx, p.ID, user.ID)
	}
	return false, nil
}

func (h *Handlers) requireManagesProject(ctx context.Context, user *database.User, projectID int64) (*database.Project, error) {
	p, err := h.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	manages, err := h.managesProject(ctx, user, p)
	if err != nil {
		return nil, err
	}
	if !manages {
		return nil, rpc.Forbidden("you do not manage this project")
	}
	return p, nil
}

// Sprints

func checkSprintDates(start, end string) error {
	if end < start {
		return rpc.BadRequest("endDate must not be before startDate")
	}
	return nil
}

func (h *Handlers) loadSprint(ctx context.Context, id int64) (*database.Sprint, error) {
	s, err := h.db.GetSprint(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, rpc.NotFound("sprint")
	}
	return s, nil
}

func (h *Handlers) listSprints(ctx context.Context, in ProjectIDInput) ([]*database.Sprint, error) {
	if _, err := h.visibleProject(ctx, rpc.MustUser(ctx), in.ProjectID); err != nil {
		return nil, err
	}
	return h.db.ListSprints(ctx, in.ProjectID)
}

func (h *Handlers) createSprint(ctx context.Context, in SprintInput) (*database.Sprint, error) {
	if err := checkSprintDates(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	if _, err := h.requireManagesProject(ctx, rpc.MustUser(ctx), in.ProjectID); err != nil {
		return nil, err
	}
	s := &database.Sprint{
		ProjectID: in.ProjectID,
		Name:      in.Name,
		Goal:      in.Goal,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    in.Status,
	}
	if err := h.db.CreateSprint(ctx, s); err != nil {
		return nil, err
	}
	return h.db.GetSprint(ctx, s.ID)
}

func (h *Handlers) updateSprint(ctx context.Context, in UpdateSprintInput) (*database.Sprint, error) {
	if err := checkSprintDates(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	s, err := h.loadSprint(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if _, err := h.requireManagesProject(ctx, rpc.MustUser(ctx), s.ProjectID); err != nil {
		return nil, err
	}
	s.Name = in.Name
	s.Goal = in.Goal
	s.StartDate = in.StartDate
	s.EndDate = in.EndDate
	s.Status = in.Status
	if err := h.db.UpdateSprint(ctx, s); err != nil {
		return nil, err
	}
	return h.db.GetSprint(ctx, s.ID)
}

func (h *Handlers) deleteSprint(ctx context.Context, in IDInput) (OK, error) {
	s, err := h.loadSprint(ctx, in.ID)
	if err != nil {
		return OK{}, err
	}
	if _, err := h.requireManagesProject(ctx, rpc.MustUser(ctx), s.ProjectID); err != nil {
		return OK{}, err
	}
	if err := h.db.DeleteSprint(ctx, s.ID); err != nil {
		return OK{}, err
	}
	return ok, nil
}

// Tasks

// visibleTask loads a task whose project the user can see
func (h *Handlers) visibleTask(ctx context.Context, user *database.User, id int64) (*database.Task, *database.Project, error) {
	t, err := h.db.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, rpc.NotFound("task")
	}
	p, err := h.visibleProject(ctx, user, t.ProjectID)
	if err != nil {
		if rpc.FromError(err).Code == rpc.CodeNotFound {
			return nil, nil, rpc.NotFound("task")
		}
		return nil, nil, err
	}
	return t, p, nil
}

// checkSprint verifies sprintID belongs to projectID
func (h *Handlers) checkSprint(ctx context.Context, sprintID *int64, projectID int64) error {
	if sprintID == nil {
		return nil
	}
	s, err := h.db.GetSprint(ctx, *sprintID)
	if err != nil {
		return err
	}
	if s == nil || s.ProjectID != projectID {
		return rpc.BadRequest("sprint does not belong to this project")
	}
	return nil
}

// checkAssignee verifies the assignee is an active project member
func (h *Handlers) checkAssignee(ctx context.Context, assigneeID *int64, projectID int64) error {
	if assigneeID == nil {
		return nil
	}
	member, err := h.db.IsProjectMember(ctx, projectID, *assigneeID)
	if err != nil {
		return err
	}
	if !member {
		return rpc.BadRequest("assignee must be a member of the project")
	}
	return nil
}

func checkEstimate(d decimal.NullDecimal) error {
	if d.Valid && d.Decimal.IsNegative() {
		return rpc.BadRequest("estimateHours must not be negative")
	}
	return nil
}

func (h *Handlers) notifyAssignee(ctx context.Context, actor *database.User, t *database.Task) {
	if t.AssigneeID == nil || *t.AssigneeID == actor.ID {
		return
	}
	h.notify(ctx, notification.Event{
		Type:    notification.EventTaskAssigned,
		Title:   "Task assigned to you",
		Message: fmt.Sprintf("%s assigned you %q", actor.Name, t.Title),
		Link:    fmt.Sprintf("/tasks/%d", t.ID),
	}, *t.AssigneeID)
}

func (h *Handlers) listTasks(ctx context.Context, in ListTasksInput) ([]*database.Task, error) {
	user := rpc.MustUser(ctx)
	f := database.TaskFilter{
		ProjectID:  in.ProjectID,
		SprintID:   in.SprintID,
		AssigneeID: in.AssigneeID,
		Status:     in.Status,
	}
	if in.ProjectID != nil {
		if _, err := h.visibleProject(ctx, user, *in.ProjectID); err != nil {
			return nil, err
		}
	} else if !user.Role.CanManage() {
		projects, err := h.db.ListProjects(ctx, database.ProjectFilter{MemberID: &user.ID})
		if err != nil {
			return nil, err
		}
		f.ProjectIDs = make([]int64, 0, len(projects))
		for _, p := range projects {
			f.ProjectIDs = append(f.ProjectIDs, p.ID)
		}
	}
	return h.db.ListTasks(ctx, f)
}

func (h *Handlers) getTask(ctx context.Context, in IDInput) (*TaskDetail, error) {
	t, _, err := h.visibleTask(ctx, rpc.MustUser(ctx), in.ID)
	if err != nil {
		return nil, err
	}
	comments, err := h.db.ListTaskComments(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: t, Comments: comments}, nil
}

func (h *Handlers) createTask(ctx context.Context, in TaskInput) (*database.Task, error) {
	user := rpc.MustUser(ctx)
	if err := checkEstimate(in.EstimateHours); err != nil {
		return nil, err
	}
	p, err := h.loadProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	member, err := h.isMember(ctx, user, p.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, rpc.Forbidden("you are not a member of this project")
	}
	if err := h.checkSprint(ctx, in.SprintID, p.ID); err != nil {
		return nil, err
	}
	if err := h.checkAssignee(ctx, in.AssigneeID, p.ID); err != nil {
		return nil, err
	}

	t := &database.Task{
		ProjectID:     p.ID,
		SprintID:      in.SprintID,
		Title:         in.Title,
		Description:   in.Description,
		Priority:      in.Priority,
		AssigneeID:    in.AssigneeID,
		ReporterID:    user.ID,
		EstimateHours: in.EstimateHours,
		DueDate:       in.DueDate,
	}
	if err := h.db.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	h.notifyAssignee(ctx, user, t)
	return h.db.GetTask(ctx, t.ID)
}

// canWorkOn reports whether user may edit a task: its reporter or assignee,
// or someone who manages the project
func (h *Handlers) canWorkOn(ctx context.Context, user *database.User, t *database.Task, p *database.Project, reporterToo bool) (bool, error) {
	if t.AssigneeID != nil && *t.AssigneeID == user.ID {
		return true, nil
	}
	if reporterToo && t.ReporterID == user.ID {
		return true, nil
	}
	return h.managesProject(ctx, user, p)
}

func (h *Handlers) updateTask(ctx context.Context, in UpdateTaskInput) (*database.Task, error) {
	user := rpc.MustUser(ctx)
	if err := checkEstimate(in.EstimateHours); err != nil {
		return nil, err
	}
	t, p, err := h.visibleTask(ctx, user, in.ID)
	if err != nil {
		return nil, err
	}
	allowed, err := h.canWorkOn(ctx, user, t, p, true)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, rpc.Forbidden("only the reporter, the assignee or a project manager can edit this task")
	}
	if err := h.checkSprint(ctx, in.SprintID, t.ProjectID); err != nil {
		return nil, err
	}

	t.SprintID = in.SprintID
	t.Title = in.Title
	t.Description = in.Description
	t.Status = in.Status
	t.Priority = in.Priority
	t.EstimateHours = in.EstimateHours
	t.DueDate = in.DueDate
	if err := h.db.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	return h.db.GetTask(ctx, t.ID)
}

func (h *Handlers) updateTaskStatus(ctx context.Context, in TaskStatusInput) (*database.Task, error) {
	user := rpc.MustUser(ctx)
	t, p, err := h.visibleTask(ctx, user, in.ID)
	if err != nil {
		return nil, err
	}
	allowed, err := h.canWorkOn(ctx, user, t, p, false)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, rpc.Forbidden("only the assignee or a project manager can move this task")
	}
	if err := h.db.UpdateTaskStatus(ctx, t.ID, in.Status); err != nil {
		return nil, err
	}
	return h.db.GetTask(ctx, t.ID)
}

func (h *Handlers) assignTask(ctx context.Context, in AssignTaskInput) (*database.Task, error) {
	user := rpc.MustUser(ctx)
	t, err := h.db.GetTask(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, rpc.NotFound("task")
	}
	if _, err := h.requireManagesProject(ctx, user, t.ProjectID); err != nil {
		return nil, err
	}
	if err := h.checkAssignee(ctx, in.AssigneeID, t.ProjectID); err != nil {
		return nil, err
	}

	changed := (t.AssigneeID == nil) != (in.AssigneeID == nil) ||
		(t.AssigneeID != nil && *t.AssigneeID != *in.AssigneeID)
	if err := h.db.AssignTask(ctx, t.ID, in.AssigneeID); err != nil {
		return nil, err
	}
	t.AssigneeID = in.AssigneeID
	if changed {
		h.notifyAssignee(ctx, user, t)
	}
	return h.db.GetTask(ctx, t.ID)
}

func (h *Handlers) deleteTask(ctx context.Context, in IDInput) (OK, error) {
	t, err := h.db.GetTask(ctx, in.ID)
	if err != nil {
		return OK{}, err
	}
	if t == nil {
		return OK{}, rpc.NotFound("task")
	}
	if _, err := h.requireManagesProject(ctx, rpc.MustUser(ctx), t.ProjectID); err != nil {
		return OK{}, err
	}
	if err := h.db.DeleteTask(ctx, t.ID); err != nil {
		return OK{}, err
	}
	return ok, nil
}

func (h *Handlers) myTasks(ctx context.Context, _ struct{}) ([]*database.Task, error) {
	uid := rpc.MustUser(ctx).ID
	return h.db.ListTasks(ctx, database.TaskFilter{AssigneeID: &uid, OpenOnly: true})
}

func (h *Handlers) addComment(ctx context.Context, in CommentInput) (*database.TaskComment, error) {
	user := rpc.MustUser(ctx)
	t, p, err := h.visibleTask(ctx, user, in.TaskID)
	if err != nil {
		return nil, err
	}
	member, err := h.isMember(ctx, user, p.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, rpc.Forbidden("you are not a member of this project")
	}

	c := &database.TaskComment{TaskID: t.ID, AuthorID: user.ID, Body: in.Body}
	if err := h.db.AddTaskComment(ctx, c); err != nil {
		return nil, err
	}

	var recipients []int64
	if t.AssigneeID != nil && *t.AssigneeID != user.ID {
		recipients = append(recipients, *t.AssigneeID)
	}
	if t.ReporterID != user.ID && (t.AssigneeID == nil || *t.AssigneeID != t.ReporterID) {
		recipients = append(recipients, t.ReporterID)
	}
	h.notify(ctx, notification.Event{
		Type:    notification.EventTaskComment,
		Title:   "New comment on " + t.Title,
		Message: fmt.Sprintf("%s commented on %q", user.Name, t.Title),
		Link:    fmt.Sprintf("/tasks/%d", t.ID),
	}, recipients...)

	return h.db.GetTaskComment(ctx, c.ID)
}

func (h *Handlers) deleteComment(ctx context.Context, in IDInput) (OK, error) {
	user := rpc.MustUser(ctx)
	c, err := h.db.GetTaskComment(ctx, in.ID)
	if err != nil {
		return OK{}, err
	}
	if c == nil {
		return OK{}, rpc.NotFound("comment")
	}
	if c.AuthorID != user.ID && user.Role != database.RoleAdmin {
		return OK{}, rpc.Forbidden("only the author or an admin can delete this comment")
	}
	if err := h.db.DeleteTaskComment(ctx, c.ID); err != nil {
		return OK{}, err
	}
	return ok, nil
}
