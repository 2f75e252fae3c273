package handlers

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
)

// Session is returned by every procedure that issues a bearer token
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      *database.User `json:"user"`
}

type SetupStatus struct {
	NeedsSetup bool `json:"needsSetup"`
}

type SetupInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

func (h *Handlers) registerAuth(r *rpc.Router) {
	rpc.Query(r, "auth.setupStatus", rpc.Public, h.setupStatus)
	rpc.Mutation(r, "auth.setup", rpc.Public, h.setup)
	rpc.Mutation(r, "auth.login", rpc.Public, h.login)
	rpc.Query(r, "auth.me", rpc.Authenticated, h.me)
	rpc.Mutation(r, "auth.refresh", rpc.Authenticated, h.refresh)
	rpc.Mutation(r, "auth.forgotPassword", rpc.Public, h.forgotPassword)
	rpc.Mutation(r, "auth.resetPassword", rpc.Public, h.resetPassword)
}

func (h *Handlers) issue(u *database.User) (*Session, error) {
	token, expiresAt, err := h.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func (h *Handlers) setupStatus(ctx context.Context, _ struct{}) (*SetupStatus, error) {
	firstRun, err := h.db.IsFirstRun(ctx)
	if err != nil {
		return nil, err
	}
	return &SetupStatus{NeedsSetup: firstRun}, nil
}

// setup creates the first administrator. It only works while no users exist.
func (h *Handlers) setup(ctx context.Context, in SetupInput) (*Session, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	admin := &database.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         database.RoleAdmin,
		Active:       true,
	}

	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		firstRun, err := tx.IsFirstRun(ctx)
		if err != nil {
			return err
		}
		if !firstRun {
			return rpc.Conflict("setup has already been completed")
		}
		if err := tx.CreateUser(ctx, admin); err != nil {
			return err
		}
		if err := tx.InitializeDefaults(ctx); err != nil {
			return err
		}
		_, err = tx.ProvisionLeaveBalances(ctx, admin.ID, h.now().UTC().Year())
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("email", admin.Email).Msg("Initial admin account created")
	return h.issue(admin)
}

func (h *Handlers) login(ctx context.Context, in LoginInput) (*Session, error) {
	user, err := h.authService.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Warn().Str("email", database.NormalizeEmail(in.Email)).Str("ip", rpc.ClientIP(ctx)).Msg("Failed login attempt")
		return nil, rpc.Unauthorized("invalid email or password")
	}

	log.Info().Int64("user_id", user.ID).Str("ip", rpc.ClientIP(ctx)).Msg("User logged in")
	return h.issue(user)
}

func (h *Handlers) me(ctx context.Context, _ struct{}) (*database.User, error) {
	return rpc.MustUser(ctx), nil
}

func (h *Handlers) refresh(ctx context.Context, _ struct{}) (*Session, error) {
	return h.issue(rpc.MustUser(ctx))
}

// forgotPassword always reports success so the response never reveals whether
// an account exists. The reset link goes out through the outbound providers.
func (h *Handlers) forgotPassword(ctx context.Context, in ForgotPasswordInput) (OK, error) {
	user, err := h.db.GetUserByEmail(ctx, in.Email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up user for password reset")
		return ok, nil
	}
	if user == nil || !user.Active {
		log.Debug().Str("email", database.NormalizeEmail(in.Email)).Msg("Password reset requested for unknown account")
		return ok, nil
	}

	ttl := h.settings(ctx).DurationMinutes(config.SettingResetTokenTTLMinutes, 60)
	token, expiresAt, err := h.authService.CreateResetToken(ctx, user.ID, ttl)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to create password reset token")
		return ok, nil
	}

	link := h.publicURL + "/reset-password?token=" + url.QueryEscape(token)
	if h.notifier != nil {
		h.notifier.Send(notification.Event{
			Type:    notification.EventPasswordReset,
			UserID:  user.ID,
			Title:   "Password reset requested",
			Message: "Use the link to choose a new password. It expires at " + expiresAt.UTC().Format(time.RFC1123) + ".",
			Link:    link,
			Fields: map[string]string{
				"email":     user.Email,
				"name":      user.Name,
				"expiresAt": expiresAt.UTC().Format(time.RFC3339),
			},
		})
	}

	log.Info().Int64("user_id", user.ID).Msg("Password reset token issued")
	return ok, nil
}

func (h *Handlers) resetPassword(ctx context.Context, in ResetPasswordInput) (OK, error) {
	user, err := h.authService.ResetPassword(ctx, in.Token, in.Password)
	if errors.Is(err, auth.ErrInvalidResetToken) {
		return OK{}, rpc.BadRequest("reset link is invalid or has expired")
	}
	if err != nil {
		return OK{}, err
	}
	log.Info().Int64("user_id", user.ID).Msg("Password reset completed")
	return ok, nil
}
