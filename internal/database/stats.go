package database

import (
	"context"
	"fmt"
)

// Stats is the admin dashboard summary
type Stats struct {
	Users               int `json:"users"`
	ActiveUsers         int `json:"activeUsers"`
	ActiveProjects      int `json:"activeProjects"`
	PendingLeaves       int `json:"pendingLeaves"`
	SubmittedTimesheets int `json:"submittedTimesheets"`
	OpenTasks           int `json:"openTasks"`
}

// GetStats collects dashboard counters in a single query
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := db.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE active = true),
			(SELECT COUNT(*) FROM projects WHERE status = ?),
			(SELECT COUNT(*) FROM leave_requests WHERE status = ?),
			(SELECT COUNT(*) FROM time_entries WHERE status = ?),
			(SELECT COUNT(*) FROM tasks WHERE status != ?)
	`, ProjectActive, LeavePending, TimeEntrySubmitted, TaskDone).Scan(
		&s.Users, &s.ActiveUsers, &s.ActiveProjects, &s.PendingLeaves, &s.SubmittedTimesheets, &s.OpenTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return s, nil
}
