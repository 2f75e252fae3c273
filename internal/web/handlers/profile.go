package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/rpc"
)

type UpdateProfileInput struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone" validate:"max=32"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required,maxbytes=72"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,maxbytes=72"`
}

type DirectReportsInput struct {
	ManagerID *int64 `json:"managerId" validate:"omitempty,gt=0"`
}

func (h *Handlers) registerProfile(r *rpc.Router) {
	rpc.Query(r, "profile.get", rpc.Authenticated, h.getProfile)
	rpc.Mutation(r, "profile.update", rpc.Authenticated, h.updateProfile)
	rpc.Mutation(r, "profile.changePassword", rpc.Authenticated, h.changePassword)
	rpc.Query(r, "profile.directReports", managers, h.directReports)
}

func (h *Handlers) getProfile(ctx context.Context, _ struct{}) (*database.User, error) {
	return h.loadUser(ctx, rpc.MustUser(ctx).ID)
}

// updateProfile only touches the fields a user may edit about themselves
func (h *Handlers) updateProfile(ctx context.Context, in UpdateProfileInput) (*database.User, error) {
	u, err := h.loadUser(ctx, rpc.MustUser(ctx).ID)
	if err != nil {
		return nil, err
	}
	u.Name = in.Name
	u.Phone = in.Phone
	if err := h.db.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (h *Handlers) changePassword(ctx context.Context, in ChangePasswordInput) (OK, error) {
	user := rpc.MustUser(ctx)
	if !auth.CheckPassword(in.CurrentPassword, user.PasswordHash) {
		return OK{}, rpc.Forbidden("current password is incorrect")
	}
	if err := h.authService.UpdatePassword(ctx, user.ID, in.NewPassword); err != nil {
		return OK{}, err
	}
	if err := h.db.InvalidatePasswordResetTokens(ctx, user.ID); err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to invalidate reset tokens")
	}
	log.Info().Int64("user_id", user.ID).Msg("Password changed")
	return ok, nil
}

// directReports lists the caller's reports. Admins may ask about any manager.
func (h *Handlers) directReports(ctx context.Context, in DirectReportsInput) ([]*database.User, error) {
	user := rpc.MustUser(ctx)
	managerID := user.ID
	if in.ManagerID != nil && *in.ManagerID != user.ID {
		if user.Role != database.RoleAdmin {
			return nil, rpc.Forbidden("you can only list your own direct reports")
		}
		managerID = *in.ManagerID
	}
	return h.db.ListDirectReports(ctx, managerID)
}
