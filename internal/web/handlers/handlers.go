// Package handlers implements the remote procedures, grouped by feature area.
package handlers

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
	"github.com/staffhub/staffhub/internal/storage"
)

// Access shorthands
var (
	managers = rpc.Roles(database.RoleAdmin, database.RoleManager)
	admins   = rpc.Roles(database.RoleAdmin)
)

// Handlers contains all procedure handlers and their dependencies
type Handlers struct {
	db          *database.DB
	authService *auth.AuthService
	tokens      *auth.TokenIssuer
	store       storage.ObjectStore
	notifier    *notification.Manager
	publicURL   string
	now         func() time.Time
}

// New creates a new Handlers instance. store may be storage.Disabled{} and
// notifier may be nil.
func New(db *database.DB, tokens *auth.TokenIssuer, store storage.ObjectStore, notifier *notification.Manager, publicURL string) *Handlers {
	if store == nil {
		store = storage.Disabled{}
	}
	return &Handlers{
		db:          db,
		authService: auth.NewAuthService(db),
		tokens:      tokens,
		store:       store,
		notifier:    notifier,
		publicURL:   publicURL,
		now:         time.Now,
	}
}

// Register adds every procedure to r
func (h *Handlers) Register(r *rpc.Router) {
	h.registerAuth(r)
	h.registerProfile(r)
	h.registerAdmin(r)
	h.registerLeave(r)
	h.registerTimesheet(r)
	h.registerProjects(r)
	h.registerTasks(r)
	h.registerDocuments(r)
	h.registerNotifications(r)
}

// IDInput selects a record by id
type IDInput struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

// OK is returned by mutations with nothing else to report
type OK struct {
	OK bool `json:"ok"`
}

var ok = OK{OK: true}

func (h *Handlers) settings(ctx context.Context) *config.Loader {
	return config.NewLoader(ctx, h.db)
}

func (h *Handlers) today() string {
	return h.now().UTC().Format("2006-01-02")
}

func (h *Handlers) notify(ctx context.Context, event notification.Event, recipients ...int64) {
	if h.notifier == nil {
		return
	}
	h.notifier.Notify(ctx, event, recipients...)
}

// approvers returns who should hear about a user's submissions: their manager,
// or every admin when they have none
func (h *Handlers) approvers(ctx context.Context, u *database.User) []int64 {
	if u.ManagerID != nil {
		return []int64{*u.ManagerID}
	}
	ids, err := h.db.AdminIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load admins for notification")
		return nil
	}
	return slices.DeleteFunc(ids, func(id int64) bool { return id == u.ID })
}

// supervises reports whether actor may review and inspect userID's records:
// admins supervise everyone, managers their direct reports
func (h *Handlers) supervises(ctx context.Context, actor *database.User, userID int64) (bool, error) {
	switch actor.Role {
	case database.RoleAdmin:
		return true, nil
	case database.RoleManager:
		return h.db.IsManagerOf(ctx, actor.ID, userID)
	}
	return false, nil
}

// canView reports whether actor may see userID's personal records
func (h *Handlers) canView(ctx context.Context, actor *database.User, userID int64) (bool, error) {
	if actor.ID == userID {
		return true, nil
	}
	return h.supervises(ctx, actor, userID)
}

// supervisedIDs returns the users whose records actor reviews. A nil slice
// with all=true means every user.
func (h *Handlers) supervisedIDs(ctx context.Context, actor *database.User) (ids []int64, all bool, err error) {
	if actor.Role == database.RoleAdmin {
		return nil, true, nil
	}
	ids, err = h.db.DirectReportIDs(ctx, actor.ID)
	return ids, false, err
}

func (h *Handlers) loadUser(ctx context.Context, id int64) (*database.User, error) {
	u, err := h.db.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, rpc.NotFound("user")
	}
	return u, nil
}
