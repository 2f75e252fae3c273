package handlers

import (
	"context"

	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/rpc"
)

type ListNotificationsInput struct {
	UnreadOnly bool `json:"unreadOnly"`
	Limit      int  `json:"limit" validate:"min=0,max=200"`
}

type UnreadCount struct {
	Count int `json:"count"`
}

type MarkAllResult struct {
	Updated int64 `json:"updated"`
}

func (h *Handlers) registerNotifications(r *rpc.Router) {
	rpc.Query(r, "notification.list", rpc.Authenticated, h.listNotifications)
	rpc.Query(r, "notification.unreadCount", rpc.Authenticated, h.unreadCount)
	rpc.Mutation(r, "notification.markRead", rpc.Authenticated, h.markRead)
	rpc.Mutation(r, "notification.markAllRead", rpc.Authenticated, h.markAllRead)
	rpc.Mutation(r, "notification.delete", rpc.Authenticated, h.deleteNotification)
}

func (h *Handlers) listNotifications(ctx context.Context, in ListNotificationsInput) ([]*database.Notification, error) {
	limit := in.Limit
	if limit == 0 {
		limit = 50
	}
	return h.db.ListNotifications(ctx, rpc.MustUser(ctx).ID, in.UnreadOnly, limit)
}

func (h *Handlers) unreadCount(ctx context.Context, _ struct{}) (*UnreadCount, error) {
	n, err := h.db.CountUnreadNotifications(ctx, rpc.MustUser(ctx).ID)
	if err != nil {
		return nil, err
	}
	return &UnreadCount{Count: n}, nil
}

func (h *Handlers) markRead(ctx context.Context, in IDInput) (OK, error) {
	found, err := h.db.MarkNotificationRead(ctx, in.ID, rpc.MustUser(ctx).ID)
	if err != nil {
		return OK{}, err
	}
	if !found {
		return OK{}, rpc.NotFound("notification")
	}
	return ok, nil
}

func (h *Handlers) markAllRead(ctx context.Context, _ struct{}) (*MarkAllResult, error) {
	n, err := h.db.MarkAllNotificationsRead(ctx, rpc.MustUser(ctx).ID)
	if err != nil {
		return nil, err
	}
	return &MarkAllResult{Updated: n}, nil
}

func (h *Handlers) deleteNotification(ctx context.Context, in IDInput) (OK, error) {
	found, err := h.db.DeleteNotification(ctx, in.ID, rpc.MustUser(ctx).ID)
	if err != nil {
		return OK{}, err
	}
	if !found {
		return OK{}, rpc.NotFound("notification")
	}
	return ok, nil
}
