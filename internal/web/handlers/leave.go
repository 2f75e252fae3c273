package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/staffhub/staffhub/internal/calendar"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
)

type YearInput struct {
	Year int `json:"year" validate:"omitempty,min=2000,max=2100"`
}

type BalanceView struct {
	*database.LeaveBalance
	Remaining decimal.Decimal `json:"remaining"`
}

type MyRequestsInput struct {
	Status database.LeaveStatus `json:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED CANCELLED"`
}

type LeaveRequestInput struct {
	LeaveTypeID int64  `json:"leaveTypeId" validate:"required,gt=0"`
	StartDate   string `json:"startDate" validate:"required,date"`
	EndDate     string `json:"endDate" validate:"required,date"`
	HalfDay     bool   `json:"halfDay"`
	Reason      string `json:"reason" validate:"max=500"`
}

type ReviewInput struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Note string `json:"note" validate:"max=500"`
}

type RangeInput struct {
	From string `json:"from" validate:"required,date"`
	To   string `json:"to" validate:"required,date"`
}

func (h *Handlers) registerLeave(r *rpc.Router) {
	rpc.Query(r, "leave.types", rpc.Authenticated, h.leaveTypes)
	rpc.Query(r, "leave.holidays", rpc.Authenticated, h.holidays)
	rpc.Query(r, "leave.myBalances", rpc.Authenticated, h.myBalances)
	rpc.Query(r, "leave.myRequests", rpc.Authenticated, h.myRequests)
	rpc.Mutation(r, "leave.request", rpc.Authenticated, h.requestLeave)
	rpc.Mutation(r, "leave.cancel", rpc.Authenticated, h.cancelLeave)
	rpc.Query(r, "leave.pending", managers, h.pendingLeave)
	rpc.Mutation(r, "leave.approve", managers, h.approveLeave)
	rpc.Mutation(r, "leave.reject", managers, h.rejectLeave)
	rpc.Query(r, "leave.calendar", rpc.Authenticated, h.leaveCalendar)
}

func (h *Handlers) year(y int) int {
	if y == 0 {
		return h.now().UTC().Year()
	}
	return y
}

func (h *Handlers) leaveTypes(ctx context.Context, _ struct{}) ([]*database.LeaveType, error) {
	return h.db.ListLeaveTypes(ctx, true)
}

func (h *Handlers) holidays(ctx context.Context, in YearInput) ([]*database.Holiday, error) {
	from, to := calendar.YearBounds(h.year(in.Year))
	return h.db.ListHolidays(ctx, from, to)
}

func (h *Handlers) myBalances(ctx context.Context, in YearInput) ([]*BalanceView, error) {
	uid := rpc.MustUser(ctx).ID
	balances, err := h.db.ListLeaveBalances(ctx, &uid, h.year(in.Year))
	if err != nil {
		return nil, err
	}
	out := make([]*BalanceView, 0, len(balances))
	for _, b := range balances {
		out = append(out, &BalanceView{LeaveBalance: b, Remaining: b.Remaining()})
	}
	return out, nil
}

func (h *Handlers) myRequests(ctx context.Context, in MyRequestsInput) ([]*database.LeaveRequest, error) {
	return h.db.ListLeaveRequests(ctx, database.LeaveRequestFilter{
		UserIDs: []int64{rpc.MustUser(ctx).ID},
		Status:  in.Status,
	})
}

// pendingDays sums the user's PENDING requests of a leave type starting in year
func pendingDays(ctx context.Context, db *database.DB, userID, leaveTypeID int64, year int) (decimal.Decimal, error) {
	from, to := calendar.YearBounds(year)
	pending, err := db.ListLeaveRequests(ctx, database.LeaveRequestFilter{
		UserIDs: []int64{userID},
		Status:  database.LeavePending,
		From:    from,
		To:      to,
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range pending {
		if r.LeaveTypeID == leaveTypeID && r.StartDate >= from {
			total = total.Add(r.Days)
		}
	}
	return total, nil
}

func (h *Handlers) requestLeave(ctx context.Context, in LeaveRequestInput) (*database.LeaveRequest, error) {
	user := rpc.MustUser(ctx)

	rng, err := calendar.ParseRange(in.StartDate, in.EndDate)
	if err != nil {
		return nil, rpc.BadRequest(err.Error())
	}

	lt, err := h.db.GetLeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if lt == nil || !lt.Active {
		return nil, rpc.NotFound("leave type")
	}

	holidays, err := h.db.HolidayDates(ctx, in.StartDate, in.EndDate)
	if err != nil {
		return nil, err
	}
	days, err := calendar.WorkingDays(rng, holidays, in.HalfDay)
	if err != nil {
		return nil, rpc.BadRequest(err.Error())
	}
	if days.IsZero() {
		return nil, rpc.BadRequest("the requested range contains no working days")
	}

	req := &database.LeaveRequest{
		UserID:      user.ID,
		LeaveTypeID: lt.ID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		HalfDay:     in.HalfDay,
		Days:        days,
		Reason:      in.Reason,
	}

	year := rng.Start.Year()
	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		overlap, err := tx.HasOverlappingLeave(ctx, user.ID, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if overlap {
			return rpc.Conflict("you already have leave booked in this period")
		}

		if lt.Paid {
			balance, err := tx.GetLeaveBalance(ctx, user.ID, lt.ID, year)
			if err != nil {
				return err
			}
			if balance == nil {
				return rpc.Conflict(fmt.Sprintf("no %s balance allocated for %d", lt.Name, year))
			}
			pending, err := pendingDays(ctx, tx, user.ID, lt.ID, year)
			if err != nil {
				return err
			}
			available := balance.Remaining().Sub(pending)
			if available.LessThan(days) {
				return rpc.Conflict(fmt.Sprintf("insufficient %s balance: %s days available, %s requested", lt.Name, available, days))
			}
		}

		return tx.CreateLeaveRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	h.notify(ctx, notification.Event{
		Type:    notification.EventLeaveRequested,
		Title:   "New leave request",
		Message: fmt.Sprintf("%s requested %s days of %s from %s to %s", user.Name, days, lt.Name, in.StartDate, in.EndDate),
		Link:    "/leave/approvals",
	}, h.approvers(ctx, user)...)

	log.Info().Int64("user_id", user.ID).Int64("request_id", req.ID).Str("days", days.String()).Msg("Leave requested")
	return h.db.GetLeaveRequest(ctx, req.ID)
}

func (h *Handlers) loadLeaveRequest(ctx context.Context, id int64) (*database.LeaveRequest, error) {
	req, err := h.db.GetLeaveRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, rpc.NotFound("leave request")
	}
	return req, nil
}

// cancelLeave withdraws a pending request, or an approved one that has not
// started yet, returning its days to the balance
func (h *Handlers) cancelLeave(ctx context.Context, in IDInput) (*database.LeaveRequest, error) {
	user := rpc.MustUser(ctx)
	req, err := h.loadLeaveRequest(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if req.UserID != user.ID {
		return nil, rpc.NotFound("leave request")
	}

	switch {
	case req.Status == database.LeavePending:
	case req.Status == database.LeaveApproved && req.StartDate > h.today():
	default:
		return nil, rpc.Conflict("only pending or upcoming approved requests can be cancelled")
	}

	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		moved, err := tx.TransitionLeaveRequest(ctx, req.ID, req.Status, database.LeaveCancelled, nil, "")
		if err != nil {
			return err
		}
		if !moved {
			return rpc.Conflict("leave request has changed, reload and try again")
		}
		if req.Status != database.LeaveApproved {
			return nil
		}
		balance, err := tx.GetLeaveBalance(ctx, req.UserID, req.LeaveTypeID, leaveYear(req))
		if err != nil || balance == nil {
			return err
		}
		return tx.AdjustLeaveBalanceUsed(ctx, balance.ID, req.Days.Neg())
	})
	if err != nil {
		return nil, err
	}
	return h.db.GetLeaveRequest(ctx, req.ID)
}

// leaveYear is the balance year a request is charged to: the year it starts in
func leaveYear(req *database.LeaveRequest) int {
	t, err := calendar.ParseDate(req.StartDate)
	if err != nil {
		return 0
	}
	return t.Year()
}

func (h *Handlers) pendingLeave(ctx context.Context, _ struct{}) ([]*database.LeaveRequest, error) {
	ids, all, err := h.supervisedIDs(ctx, rpc.MustUser(ctx))
	if err != nil {
		return nil, err
	}
	if !all && len(ids) == 0 {
		return []*database.LeaveRequest{}, nil
	}
	return h.db.ListLeaveRequests(ctx, database.LeaveRequestFilter{UserIDs: ids, Status: database.LeavePending})
}

func (h *Handlers) approveLeave(ctx context.Context, in ReviewInput) (*database.LeaveRequest, error) {
	return h.reviewLeave(ctx, in, database.LeaveApproved)
}

func (h *Handlers) rejectLeave(ctx context.Context, in ReviewInput) (*database.LeaveRequest, error) {
	return h.reviewLeave(ctx, in, database.LeaveRejected)
}

func (h *Handlers) reviewLeave(ctx context.Context, in ReviewInput, to database.LeaveStatus) (*database.LeaveRequest, error) {
	reviewer := rpc.MustUser(ctx)
	req, err := h.loadLeaveRequest(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if req.UserID == reviewer.ID {
		return nil, rpc.Forbidden("you cannot review your own leave request")
	}
	allowed, err := h.supervises(ctx, reviewer, req.UserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, rpc.Forbidden("you can only review requests from your direct reports")
	}
	if req.Status != database.LeavePending {
		return nil, rpc.Conflict("leave request is already " + string(req.Status))
	}

	err = h.db.Transaction(ctx, func(tx *database.DB) error {
		if to == database.LeaveApproved {
			if err := consumeBalance(ctx, tx, req); err != nil {
				return err
			}
		}
		moved, err := tx.TransitionLeaveRequest(ctx, req.ID, database.LeavePending, to, &reviewer.ID, in.Note)
		if err != nil {
			return err
		}
		if !moved {
			return rpc.Conflict("leave request has already been reviewed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	verb := "approved"
	if to == database.LeaveRejected {
		verb = "rejected"
	}
	h.notify(ctx, notification.Event{
		Type:    notification.EventLeaveReviewed,
		Title:   "Leave request " + verb,
		Message: fmt.Sprintf("%s %s your %s request for %s to %s", reviewer.Name, verb, req.LeaveTypeName, req.StartDate, req.EndDate),
		Link:    "/leave",
	}, req.UserID)

	log.Info().Int64("request_id", req.ID).Int64("reviewer_id", reviewer.ID).Str("status", string(to)).Msg("Leave request reviewed")
	return h.db.GetLeaveRequest(ctx, req.ID)
}

// consumeBalance charges an approved request to its balance. Paid leave must fit.
func consumeBalance(ctx context.Context, tx *database.DB, req *database.LeaveRequest) error {
	lt, err := tx.GetLeaveType(ctx, req.LeaveTypeID)
	if err != nil {
		return err
	}
	balance, err := tx.GetLeaveBalance(ctx, req.UserID, req.LeaveTypeID, leaveYear(req))
	if err != nil {
		return err
	}
	if balance == nil {
		if lt != nil && lt.Paid {
			return rpc.Conflict("no leave balance allocated for this year")
		}
		return nil
	}
	if lt != nil && lt.Paid && balance.Remaining().LessThan(req.Days) {
		return rpc.Conflict(fmt.Sprintf("insufficient balance: %s days remaining, %s requested", balance.Remaining(), req.Days))
	}
	return tx.AdjustLeaveBalanceUsed(ctx, balance.ID, req.Days)
}

// leaveCalendar shows approved absences overlapping a range. Admins see
// everyone, managers their reports, employees their teammates.
func (h *Handlers) leaveCalendar(ctx context.Context, in RangeInput) ([]*database.LeaveRequest, error) {
	rng, err := calendar.ParseRange(in.From, in.To)
	if err != nil {
		return nil, rpc.BadRequest(err.Error())
	}
	if rng.Days() > calendar.MaxLeaveSpan {
		return nil, rpc.BadRequest("calendar range is limited to one year")
	}

	user := rpc.MustUser(ctx)
	var ids []int64
	switch {
	case user.Role == database.RoleAdmin:
	case user.Role == database.RoleManager:
		if ids, err = h.db.DirectReportIDs(ctx, user.ID); err != nil {
			return nil, err
		}
		ids = append(ids, user.ID)
	case user.ManagerID != nil:
		if ids, err = h.db.DirectReportIDs(ctx, *user.ManagerID); err != nil {
			return nil, err
		}
	default:
		ids = []int64{user.ID}
	}
	if user.Role != database.RoleAdmin && len(ids) == 0 {
		ids = []int64{user.ID}
	}

	return h.db.ListLeaveRequests(ctx, database.LeaveRequestFilter{
		UserIDs: ids,
		Status:  database.LeaveApproved,
		From:    in.From,
		To:      in.To,
	})
}
