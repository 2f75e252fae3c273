package handlers

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/rpc"
)

type ListProjectsInput struct {
	Status database.ProjectStatus `json:"status" validate:"omitempty,oneof=ACTIVE ON_HOLD COMPLETED ARCHIVED"`
	Search string                 `json:"search" validate:"max=100"`
}

type ProjectDetail struct {
	*database.Project
	Members []*database.ProjectMember `json:"members"`
}

type ProjectInput struct {
	Code        string                 `json:"code" validate:"required,max=20"`
	Name        string                 `json:"name" validate:"required,max=100"`
	Description string                 `json:"description" validate:"max=2000"`
	Status      database.ProjectStatus `json:"status" validate:"omitempty,oneof=ACTIVE ON_HOLD COMPLETED ARCHIVED"`
	OwnerID     *int64                 `json:"ownerId" validate:"omitempty,gt=0"`
	StartDate   *string                `json:"startDate" validate:"omitempty,date"`
	EndDate     *string                `json:"endDate" validate:"omitempty,date"`
}

type UpdateProjectInput struct {
	ID int64 `json:"id" validate:"required,gt=0"`
	ProjectInput
}

type MemberInput struct {
	ProjectID int64 `json:"projectId" validate:"required,gt=0"`
	UserID    int64 `json:"userId" validate:"required,gt=0"`
}

func (h *Handlers) registerProjects(r *rpc.Router) {
	rpc.Query(r, "project.list", rpc.Authenticated, h.listProjects)
	rpc.Query(r, "project.get", rpc.Authenticated, h.getProject)
	rpc.Mutation(r, "project.create", managers, h.createProject)
	rpc.Mutation(r, "project.update", managers, h.updateProject)
	rpc.Mutation(r, "project.delete", admins, h.deleteProject)
	rpc.Mutation(r, "project.addMember", managers, h.addMember)
	rpc.Mutation(r, "project.removeMember", managers, h.removeMember)
}

func (h *Handlers) loadProject(ctx context.Context, id int64) (*database.Project, error) {
	p, err := h.db.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, rpc.NotFound("project")
	}
	return p, nil
}

// isMember reports whether user may work on the project. Admins always may.
func (h *Handlers) isMember(ctx context.Context, user *database.User, projectID int64) (bool, error) {
	if user.Role == database.RoleAdmin {
		return true, nil
	}
	return h.db.IsProjectMember(ctx, projectID, user.ID)
}

// canSeeProject lets managers see every project and employees their own
func (h *Handlers) canSeeProject(ctx context.Context, user *database.User, projectID int64) (bool, error) {
	if user.Role.CanManage() {
		return true, nil
	}
	return h.db.IsProjectMember(ctx, projectID, user.ID)
}

// canEditProject allows admins, and managers who own the project
func canEditProject(user *database.User, p *database.Project) bool {
	if user.Role == database.RoleAdmin {
		return true
	}
	return user.Role == database.RoleManager && p.OwnerID != nil && *p.OwnerID == user.ID
}

// visibleProject loads a project, hiding it from users who may not see it
func (h *Handlers) visibleProject(ctx context.Context, user *database.User, id int64) (*database.Project, error) {
	p, err := h.loadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := h.canSeeProject(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, rpc.NotFound("project")
	}
	return p, nil
}

func (h *Handlers) listProjects(ctx context.Context, in ListProjectsInput) ([]*database.Project, error) {
	user := rpc.MustUser(ctx)
	f := database.ProjectFilter{Status: in.Status, Search: in.Search}
	if !user.Role.CanManage() {
		f.MemberID = &user.ID
	}
	return h.db.ListProjects(ctx, f)
}

func (h *Handlers) getProject(ctx context.Context, in IDInput) (*ProjectDetail, error) {
	p, err := h.visibleProject(ctx, rpc.MustUser(ctx), in.ID)
	if err != nil {
		return nil, err
	}
	members, err := h.db.ListProjectMembers(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: p, Members: members}, nil
}

func (h *Handlers) checkProjectInput(ctx context.Context, in ProjectInput) error {
	if in.StartDate != nil && in.EndDate != nil && *in.EndDate < *in.StartDate {
		return rpc.BadRequest("endDate must not be before startDate")
	}
	if in.OwnerID != nil {
		owner, err := h.loadUser(ctx, *in.OwnerID)
		if err != nil {
			return err
		}
		if !owner.Active || !owner.Role.CanManage() {
			return rpc.BadRequest("project owner must be an active manager or admin")
		}
	}
	return nil
}

func (h *Handlers) createProject(ctx context.Context, in ProjectInput) (*database.Project, error) {
	user := rpc.MustUser(ctx)
	if in.OwnerID == nil {
		in.OwnerID = &user.ID
	}
	if err := h.checkProjectInput(ctx, in); err != nil {
		return nil, err
	}

	p := &database.Project{
		Code:        in.Code,
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		OwnerID:     in.OwnerID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
	}
	err := h.db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.CreateProject(ctx, p); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return rpc.Conflict("a project with this code already exists")
			}
			return err
		}
		return tx.AddProjectMember(ctx, p.ID, *p.OwnerID)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("project_id", p.ID).Str("code", p.Code).Msg("Project created")
	return h.db.GetProject(ctx, p.ID)
}

func (h *Handlers) updateProject(ctx context.Context, in UpdateProjectInput) (*database.Project, error) {
	user := rpc.MustUser(ctx)
	p, err := h.loadProject(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if !canEditProject(user, p) {
		return nil, rpc.Forbidden("you can only update projects you own")
	}
	if in.OwnerID == nil {
		in.OwnerID = p.OwnerID
	}
	if err := h.checkProjectInput(ctx, in.ProjectInput); err != nil {
		return nil, err
	}

	p.Code = in.Code
	p.Name = in.Name
	p.Description = in.Description
	if in.Status != "" {
		p.Status = in.Status
	}
	p.OwnerID = in.OwnerID
	p.StartDate = in.StartDate
	p.EndDate = in.EndDate

	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.UpdateProject(ctx, p); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return rpc.Conflict("a project with this code already exists")
			}
			return err
		}
		if p.OwnerID != nil {
			return tx.AddProjectMember(ctx, p.ID, *p.OwnerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.db.GetProject(ctx, p.ID)
}

func (h *Handlers) deleteProject(ctx context.Context, in IDInput) (OK, error) {
	if _, err := h.loadProject(ctx, in.ID); err != nil {
		return OK{}, err
	}
	if err := h.db.DeleteProject(ctx, in.ID); err != nil {
		if errors.Is(err, database.ErrInUse) {
			return OK{}, rpc.Conflict("project has time entries; archive it instead")
		}
		return OK{}, err
	}
	log.Info().Int64("project_id", in.ID).Msg("Project deleted")
	return ok, nil
}

func (h *Handlers) addMember(ctx context.Context, in MemberInput) ([]*database.ProjectMember, error) {
	p, err := h.loadProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !canEditProject(rpc.MustUser(ctx), p) {
		return nil, rpc.Forbidden("you can only manage members of projects you own")
	}
	u, err := h.loadUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, rpc.BadRequest("inactive users cannot join projects")
	}
	if err := h.db.AddProjectMember(ctx, p.ID, u.ID); err != nil {
		return nil, err
	}
	return h.db.ListProjectMembers(ctx, p.ID)
}

func (h *Handlers) removeMember(ctx context.Context, in MemberInput) ([]*database.ProjectMember, error) {
	p, err := h.loadProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !canEditProject(rpc.MustUser(ctx), p) {
		return nil, rpc.Forbidden("you can only manage members of projects you own")
	}
	if p.OwnerID != nil && *p.OwnerID == in.UserID {
		return nil, rpc.BadRequest("the project owner cannot be removed")
	}
	removed, err := h.db.RemoveProjectMember(ctx, p.ID, in.UserID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, rpc.NotFound("project member")
	}
	return h.db.ListProjectMembers(ctx, p.ID)
}
