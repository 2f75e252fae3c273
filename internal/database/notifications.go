package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Notification kinds
const (
	NotificationLeaveRequested   = "leave_requested"
	NotificationLeaveReviewed    = "leave_reviewed"
	NotificationTimesheetSubmit  = "timesheet_submitted"
	NotificationTimesheetReview  = "timesheet_reviewed"
	NotificationTaskAssigned     = "task_assigned"
	NotificationTaskComment      = "task_comment"
	NotificationDocumentUploaded = "document_uploaded"
	NotificationPasswordReset    = "password_reset"
)

// Notification is an in-app message for a single user
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Link      string     `json:"link"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreateNotification inserts a notification
func (db *DB) CreateNotification(ctx context.Context, n *Notification) error {
	n.CreatedAt = now()
	result, err := db.exec(ctx, `
		INSERT INTO notifications (user_id, kind, title, message, link, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.UserID, n.Kind, n.Title, n.Message, n.Link, n.CreatedAt)
	if err != nil {
		return mapConstraint(err, "create notification")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get notification id: %w", err)
	}
	n.ID = id
	return nil
}

// ListNotifications returns a user's notifications, newest first
func (db *DB) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	q := `
		SELECT id, user_id, kind, title, message, link, read_at, created_at
		FROM notifications WHERE user_id = ?
	`
	if unreadOnly {
		q += " AND read_at IS NULL"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*Notification{}
	for rows.Next() {
		n := &Notification{}
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &n.Link, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ReadAt = nullTimeToPtr(readAt)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnreadNotifications returns the number of unread notifications of a user
func (db *DB) CountUnreadNotifications(ctx context.Context, userID int64) (int, error) {
	var count int
	err := db.queryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read_at IS NULL", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks one of the user's notifications read.
// Returns false when the notification does not belong to the user.
func (db *DB) MarkNotificationRead(ctx context.Context, id, userID int64) (bool, error) {
	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?", id, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to find notification: %w", err)
	}
	if count == 0 {
		return false, nil
	}
	_, err := db.exec(ctx, `
		UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL
	`, now(), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return true, nil
}

// MarkAllNotificationsRead marks every unread notification of the user read
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	result, err := db.exec(ctx, `
		UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL
	`, now(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// DeleteNotification removes one of the user's notifications
func (db *DB) DeleteNotification(ctx context.Context, id, userID int64) (bool, error) {
	result, err := db.exec(ctx, "DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	return affected(result)
}

// PurgeReadNotifications deletes read notifications created before cutoff
func (db *DB) PurgeReadNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.exec(ctx, `
		DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return result.RowsAffected()
}
