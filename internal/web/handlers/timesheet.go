package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/staffhub/staffhub/internal/calendar"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
)

// hardDailyCap bounds the max_daily_hours setting
var hardDailyCap = decimal.NewFromInt(24)

type ListEntriesInput struct {
	From   string                   `json:"from" validate:"omitempty,date"`
	To     string                   `json:"to" validate:"omitempty,date"`
	Status database.TimeEntryStatus `json:"status" validate:"omitempty,oneof=DRAFT SUBMITTED APPROVED REJECTED"`
}

type EntryList struct {
	From    string                `json:"from"`
	To      string                `json:"to"`
	Total   decimal.Decimal       `json:"total"`
	Entries []*database.TimeEntry `json:"entries"`
}

type TimeEntryInput struct {
	ProjectID   int64           `json:"projectId" validate:"required,gt=0"`
	TaskID      *int64          `json:"taskId" validate:"omitempty,gt=0"`
	Date        string          `json:"date" validate:"required,date"`
	Hours       decimal.Decimal `json:"hours"`
	Description string          `json:"description" validate:"max=500"`
}

type UpdateTimeEntryInput struct {
	ID int64 `json:"id" validate:"required,gt=0"`
	TimeEntryInput
}

type SubmitResult struct {
	Submitted int64 `json:"submitted"`
}

type TeamEntriesInput struct {
	From   string                   `json:"from" validate:"required,date"`
	To     string                   `json:"to" validate:"required,date"`
	Status database.TimeEntryStatus `json:"status" validate:"omitempty,oneof=DRAFT SUBMITTED APPROVED REJECTED"`
	UserID *int64                   `json:"userId" validate:"omitempty,gt=0"`
}

type BatchReviewInput struct {
	IDs  []int64 `json:"ids" validate:"required,min=1,max=200,dive,gt=0"`
	Note string  `json:"note" validate:"max=500"`
}

type ReviewResult struct {
	Reviewed int `json:"reviewed"`
}

type SummaryInput struct {
	From   string `json:"from" validate:"required,date"`
	To     string `json:"to" validate:"required,date"`
	UserID *int64 `json:"userId" validate:"omitempty,gt=0"`
}

type Summary struct {
	UserID   int64                    `json:"userId"`
	From     string                   `json:"from"`
	To       string                   `json:"to"`
	Total    decimal.Decimal          `json:"total"`
	Projects []*database.ProjectHours `json:"projects"`
}

func (h *Handlers) registerTimesheet(r *rpc.Router) {
	rpc.Query(r, "timesheet.list", rpc.Authenticated, h.listEntries)
	rpc.Mutation(r, "timesheet.create", rpc.Authenticated, h.createEntry)
	rpc.Mutation(r, "timesheet.update", rpc.Authenticated, h.updateEntry)
	rpc.Mutation(r, "timesheet.delete", rpc.Authenticated, h.deleteEntry)
	rpc.Mutation(r, "timesheet.submit", rpc.Authenticated, h.submitEntries)
	rpc.Query(r, "timesheet.team", managers, h.teamEntries)
	rpc.Mutation(r, "timesheet.approve", managers, h.approveEntries)
	rpc.Mutation(r, "timesheet.reject", managers, h.rejectEntries)
	rpc.Query(r, "timesheet.summary", rpc.Authenticated, h.summary)
}

// weekRange falls back to the current week when from or to is missing
func (h *Handlers) weekRange(ctx context.Context, from, to string) (string, string, error) {
	if from == "" || to == "" {
		start := calendar.WeekStart(h.settings(ctx).String(config.SettingWeekStart, string(calendar.WeekStartMonday)))
		w := calendar.Week(h.now().UTC(), start)
		return calendar.FormatDate(w.Start), calendar.FormatDate(w.End), nil
	}
	if _, err := calendar.ParseRange(from, to); err != nil {
		return "", "", rpc.BadRequest(err.Error())
	}
	return from, to, nil
}

func sumHours(entries []*database.TimeEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Hours)
	}
	return total
}

func (h *Handlers) listEntries(ctx context.Context, in ListEntriesInput) (*EntryList, error) {
	from, to, err := h.weekRange(ctx, in.From, in.To)
	if err != nil {
		return nil, err
	}
	entries, err := h.db.ListTimeEntries(ctx, database.TimeEntryFilter{
		UserIDs: []int64{rpc.MustUser(ctx).ID},
		From:    from,
		To:      to,
		Status:  in.Status,
	})
	if err != nil {
		return nil, err
	}
	return &EntryList{From: from, To: to, Total: sumHours(entries), Entries: entries}, nil
}

// checkEntry validates hours and the project and task an entry is booked
// against. The daily cap is enforced by withinDailyCap at write time.
func (h *Handlers) checkEntry(ctx context.Context, user *database.User, in TimeEntryInput) error {
	if !in.Hours.IsPositive() {
		return rpc.BadRequest("hours must be greater than 0")
	}
	if !in.Hours.Equal(in.Hours.Round(2)) {
		return rpc.BadRequest("hours may have at most two decimal places")
	}

	project, err := h.loadProject(ctx, in.ProjectID)
	if err != nil {
		return err
	}
	if project.Status != database.ProjectActive {
		return rpc.BadRequest("time can only be booked on active projects")
	}
	member, err := h.isMember(ctx, user, project.ID)
	if err != nil {
		return err
	}
	if !member {
		return rpc.Forbidden("you are not a member of this project")
	}

	if in.TaskID != nil {
		task, err := h.db.GetTask(ctx, *in.TaskID)
		if err != nil {
			return err
		}
		if task == nil || task.ProjectID != project.ID {
			return rpc.BadRequest("task does not belong to this project")
		}
	}
	return nil
}

func (h *Handlers) createEntry(ctx context.Context, in TimeEntryInput) (*database.TimeEntry, error) {
	user := rpc.MustUser(ctx)
	if err := h.checkEntry(ctx, user, in); err != nil {
		return nil, err
	}
	e := &database.TimeEntry{
		UserID:      user.ID,
		ProjectID:   in.ProjectID,
		TaskID:      in.TaskID,
		Date:        in.Date,
		Hours:       in.Hours,
		Description: in.Description,
	}
	dailyCap := h.dailyCap(ctx)
	err := h.db.Transaction(ctx, func(tx *database.DB) error {
		if err := withinDailyCap(ctx, tx, user.ID, in, 0, dailyCap); err != nil {
			return err
		}
		return tx.CreateTimeEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return h.db.GetTimeEntry(ctx, e.ID)
}

// dailyCap is the max_daily_hours setting, bounded to 24
func (h *Handlers) dailyCap(ctx context.Context) decimal.Decimal {
	dailyCap := decimal.NewFromInt(int64(h.settings(ctx).Int(config.SettingMaxDailyHours, 24)))
	if dailyCap.GreaterThan(hardDailyCap) || !dailyCap.IsPositive() {
		return hardDailyCap
	}
	return dailyCap
}

// withinDailyCap rejects a booking that would push the user's day over
// dailyCap. It must run in the transaction that writes the entry.
// excludeID is the entry being edited, 0 for a new one.
func withinDailyCap(ctx context.Context, tx *database.DB, userID int64, in TimeEntryInput, excludeID int64, dailyCap decimal.Decimal) error {
	booked, err := tx.SumHoursForDay(ctx, userID, in.Date, excludeID)
	if err != nil {
		return err
	}
	if booked.Add(in.Hours).GreaterThan(dailyCap) {
		return rpc.BadRequest(fmt.Sprintf("daily limit of %s hours exceeded: %s already booked on %s", dailyCap, booked, in.Date))
	}
	return nil
}

// ownEditableEntry loads an entry of the caller that may still be changed
func (h *Handlers) ownEditableEntry(ctx context.Context, user *database.User, id int64) (*database.TimeEntry, error) {
	e, err := h.db.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.UserID != user.ID {
		return nil, rpc.NotFound("time entry")
	}
	if !e.Status.Editable() {
		return nil, rpc.Conflict("time entry is " + string(e.Status) + " and can no longer be changed")
	}
	return e, nil
}

func (h *Handlers) updateEntry(ctx context.Context, in UpdateTimeEntryInput) (*database.TimeEntry, error) {
	user := rpc.MustUser(ctx)
	e, err := h.ownEditableEntry(ctx, user, in.ID)
	if err != nil {
		return nil, err
	}
	if err := h.checkEntry(ctx, user, in.TimeEntryInput); err != nil {
		return nil, err
	}
	e.ProjectID = in.ProjectID
	e.TaskID = in.TaskID
	e.Date = in.Date
	e.Hours = in.Hours
	e.Description = in.Description
	dailyCap := h.dailyCap(ctx)
	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		current, err := tx.GetTimeEntry(ctx, e.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.Status.Editable() {
			return rpc.Conflict("time entry has changed, reload and try again")
		}
		if err := withinDailyCap(ctx, tx, user.ID, in.TimeEntryInput, e.ID, dailyCap); err != nil {
			return err
		}
		return tx.UpdateTimeEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return h.db.GetTimeEntry(ctx, e.ID)
}

func (h *Handlers) deleteEntry(ctx context.Context, in IDInput) (OK, error) {
	e, err := h.ownEditableEntry(ctx, rpc.MustUser(ctx), in.ID)
	if err != nil {
		return OK{}, err
	}
	if err := h.db.DeleteTimeEntry(ctx, e.ID); err != nil {
		return OK{}, err
	}
	return ok, nil
}

func (h *Handlers) submitEntries(ctx context.Context, in RangeInput) (*SubmitResult, error) {
	user := rpc.MustUser(ctx)
	if _, err := calendar.ParseRange(in.From, in.To); err != nil {
		return nil, rpc.BadRequest(err.Error())
	}
	n, err := h.db.SubmitTimeEntries(ctx, user.ID, in.From, in.To)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		h.notify(ctx, notification.Event{
			Type:    notification.EventTimesheetSubmitted,
			Title:   "Timesheet submitted",
			Message: fmt.Sprintf("%s submitted %d entries for %s to %s", user.Name, n, in.From, in.To),
			Link:    "/timesheets/approvals",
		}, h.approvers(ctx, user)...)
		log.Info().Int64("user_id", user.ID).Int64("entries", n).Msg("Timesheet submitted")
	}
	return &SubmitResult{Submitted: n}, nil
}

func (h *Handlers) teamEntries(ctx context.Context, in TeamEntriesInput) ([]*database.TimeEntry, error) {
	if _, err := calendar.ParseRange(in.From, in.To); err != nil {
		return nil, rpc.BadRequest(err.Error())
	}
	actor := rpc.MustUser(ctx)
	ids, all, err := h.supervisedIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	if in.UserID != nil {
		allowed, err := h.supervises(ctx, actor, *in.UserID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, rpc.Forbidden("you can only view timesheets of your direct reports")
		}
		ids, all = []int64{*in.UserID}, false
	}
	if !all && len(ids) == 0 {
		return []*database.TimeEntry{}, nil
	}
	return h.db.ListTimeEntries(ctx, database.TimeEntryFilter{UserIDs: ids, From: in.From, To: in.To, Status: in.Status})
}

func (h *Handlers) approveEntries(ctx context.Context, in BatchReviewInput) (*ReviewResult, error) {
	return h.reviewEntries(ctx, in, database.TimeEntryApproved)
}

func (h *Handlers) rejectEntries(ctx context.Context, in BatchReviewInput) (*ReviewResult, error) {
	return h.reviewEntries(ctx, in, database.TimeEntryRejected)
}

// reviewEntries checks every entry before changing any, then applies the
// batch atomically
func (h *Handlers) reviewEntries(ctx context.Context, in BatchReviewInput, to database.TimeEntryStatus) (*ReviewResult, error) {
	reviewer := rpc.MustUser(ctx)

	perUser := map[int64]int{}
	seen := map[int64]bool{}
	var ids []int64
	for _, id := range in.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, err := h.db.GetTimeEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, rpc.NotFound(fmt.Sprintf("time entry %d", id))
		}
		if e.UserID == reviewer.ID {
			return nil, rpc.Forbidden("you cannot review your own time entries")
		}
		allowed, err := h.supervises(ctx, reviewer, e.UserID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, rpc.Forbidden("you can only review entries of your direct reports")
		}
		if e.Status != database.TimeEntrySubmitted {
			return nil, rpc.Conflict(fmt.Sprintf("time entry %d is %s, not SUBMITTED", id, e.Status))
		}
		perUser[e.UserID]++
		ids = append(ids, id)
	}

	err := h.db.Transaction(ctx, func(tx *database.DB) error {
		for _, id := range ids {
			moved, err := tx.ReviewTimeEntry(ctx, id, reviewer.ID, to, in.Note)
			if err != nil {
				return err
			}
			if !moved {
				return rpc.Conflict(fmt.Sprintf("time entry %d has already been reviewed", id))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	verb := "approved"
	if to == database.TimeEntryRejected {
		verb = "rejected"
	}
	for userID, n := range perUser {
		h.notify(ctx, notification.Event{
			Type:    notification.EventTimesheetReviewed,
			Title:   "Timesheet " + verb,
			Message: fmt.Sprintf("%s %s %d of your time entries", reviewer.Name, verb, n),
			Link:    "/timesheets",
		}, userID)
	}

	log.Info().Int64("reviewer_id", reviewer.ID).Int("entries", len(ids)).Str("status", string(to)).Msg("Time entries reviewed")
	return &ReviewResult{Reviewed: len(ids)}, nil
}

func (h *Handlers) summary(ctx context.Context, in SummaryInput) (*Summary, error) {
	if _, err := calendar.ParseRange(in.From, in.To); err != nil {
		return nil, rpc.BadRequest(err.Error())
	}
	actor := rpc.MustUser(ctx)
	userID := actor.ID
	if in.UserID != nil && *in.UserID != actor.ID {
		allowed, err := h.supervises(ctx, actor, *in.UserID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, rpc.Forbidden("you can only view summaries of your direct reports")
		}
		userID = *in.UserID
	}

	projects, err := h.db.SummarizeHours(ctx, database.TimeEntryFilter{UserIDs: []int64{userID}, From: in.From, To: in.To})
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, p := range projects {
		total = total.Add(p.Hours)
	}
	return &Summary{UserID: userID, From: in.From, To: in.To, Total: total, Projects: projects}, nil
}
