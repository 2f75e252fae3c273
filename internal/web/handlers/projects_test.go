package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/rpc"
)

func TestProjects(t *testing.T) {
	hs := newHarness(t)
	_, adminToken := hs.user("Ada", database.RoleAdmin, nil)
	mgr, mgrToken := hs.user("Max", database.RoleManager, nil)
	_, otherToken := hs.user("Olga", database.RoleManager, nil)
	eve, eveToken := hs.user("Eve", database.RoleEmployee, &mgr.ID)
	tia, _ := hs.user("Tia", database.RoleEmployee, nil)

	var p database.Project
	hs.must(mgrToken, "project.create", map[string]any{"code": " acme ", "name": "Acme"}, &p)
	assert.Equal(t, "ACME", p.Code)
	assert.Equal(t, database.ProjectActive, p.Status)
	require.NotNil(t, p.OwnerID)
	assert.Equal(t, mgr.ID, *p.OwnerID)
	assert.Equal(t, 1, p.MemberCount)

	assertCode(t, hs.call(otherToken, "project.create", map[string]any{"code": "Acme", "name": "Other"}, nil), rpc.CodeConflict)
	assertCode(t, hs.call(mgrToken, "project.create", map[string]any{"code": "LATE", "name": "Late", "startDate": "2026-05-01", "endDate": "2026-04-01"}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(adminToken, "project.create", map[string]any{"code": "EMP", "name": "Emp", "ownerId": tia.ID}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(eveToken, "project.create", map[string]any{"code": "MINE", "name": "Mine"}, nil), rpc.CodeForbidden)

	// Employees only see projects they belong to
	var list []*database.Project
	hs.must(eveToken, "project.list", nil, &list)
	assert.Empty(t, list)
	assertCode(t, hs.call(eveToken, "project.get", map[string]any{"id": p.ID}, nil), rpc.CodeNotFound)

	var members []*database.ProjectMember
	hs.must(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": eve.ID}, &members)
	assert.Len(t, members, 2)
	hs.must(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": eve.ID}, &members)
	assert.Len(t, members, 2)

	hs.must(eveToken, "project.list", nil, &list)
	require.Len(t, list, 1)
	var detail ProjectDetail
	hs.must(eveToken, "project.get", map[string]any{"id": p.ID}, &detail)
	assert.Equal(t, "Acme", detail.Name)
	assert.Len(t, detail.Members, 2)

	hs.must(otherToken, "project.list", map[string]any{"search": "acm"}, &list)
	assert.Len(t, list, 1)
	hs.must(otherToken, "project.list", map[string]any{"status": "ARCHIVED"}, &list)
	assert.Empty(t, list)

	// Only the owner or an admin changes a project
	update := map[string]any{"id": p.ID, "code": "ACME", "name": "Acme Corp", "status": "ON_HOLD"}
	assertCode(t, hs.call(otherToken, "project.update", update, nil), rpc.CodeForbidden)
	assertCode(t, hs.call(otherToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": tia.ID}, nil), rpc.CodeForbidden)
	hs.must(mgrToken, "project.update", update, &p)
	assert.Equal(t, "Acme Corp", p.Name)
	assert.Equal(t, database.ProjectOnHold, p.Status)
	hs.must(adminToken, "project.update", map[string]any{"id": p.ID, "code": "ACME", "name": "Acme"}, &p)
	assert.Equal(t, database.ProjectOnHold, p.Status)

	assertCode(t, hs.call(mgrToken, "project.removeMember", map[string]any{"projectId": p.ID, "userId": mgr.ID}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(mgrToken, "project.removeMember", map[string]any{"projectId": p.ID, "userId": tia.ID}, nil), rpc.CodeNotFound)

	hs.must(adminToken, "admin.setUserActive", map[string]any{"id": tia.ID, "active": false}, nil)
	assertCode(t, hs.call(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": tia.ID}, nil), rpc.CodeBadRequest)

	hs.must(mgrToken, "project.removeMember", map[string]any{"projectId": p.ID, "userId": eve.ID}, &members)
	assert.Len(t, members, 1)
	assertCode(t, hs.call(eveToken, "project.get", map[string]any{"id": p.ID}, nil), rpc.CodeNotFound)

	assertCode(t, hs.call(mgrToken, "project.delete", map[string]any{"id": p.ID}, nil), rpc.CodeForbidden)
	hs.must(adminToken, "project.delete", map[string]any{"id": p.ID}, nil)
	assertCode(t, hs.call(adminToken, "project.get", map[string]any{"id": p.ID}, nil), rpc.CodeNotFound)
	assertCode(t, hs.call(adminToken, "project.delete", map[string]any{"id": p.ID}, nil), rpc.CodeNotFound)
}

func TestSprints(t *testing.T) {
	hs := newHarness(t)
	mgr, mgrToken := hs.user("Max", database.RoleManager, nil)
	_, otherToken := hs.user("Olga", database.RoleManager, nil)
	eve, eveToken := hs.user("Eve", database.RoleEmployee, &mgr.ID)
	_, umaToken := hs.user("Uma", database.RoleEmployee, nil)

	var p database.Project
	hs.must(mgrToken, "project.create", map[string]any{"code": "ACME", "name": "Acme"}, &p)
	hs.must(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": eve.ID}, nil)

	sprint := map[string]any{"projectId": p.ID, "name": "Sprint 1", "startDate": "2026-03-02", "endDate": "2026-03-13"}
	assertCode(t, hs.call(eveToken, "sprint.create", sprint, nil), rpc.CodeForbidden)
	assertCode(t, hs.call(otherToken, "sprint.create", sprint, nil), rpc.CodeForbidden)
	assertCode(t, hs.call(mgrToken, "sprint.create", map[string]any{"projectId": p.ID, "name": "Backwards", "startDate": "2026-03-13", "endDate": "2026-03-02"}, nil), rpc.CodeBadRequest)

	var s database.Sprint
	hs.must(mgrToken, "sprint.create", sprint, &s)
	assert.Equal(t, database.SprintPlanned, s.Status)

	var sprints []*database.Sprint
	hs.must(eveToken, "sprint.list", map[string]any{"projectId": p.ID}, &sprints)
	require.Len(t, sprints, 1)
	assertCode(t, hs.call(umaToken, "sprint.list", map[string]any{"projectId": p.ID}, nil), rpc.CodeNotFound)

	hs.must(mgrToken, "sprint.update", map[string]any{"id": s.ID, "name": "Sprint 1", "goal": "Ship it", "startDate": "2026-03-02", "endDate": "2026-03-13", "status": "ACTIVE"}, &s)
	assert.Equal(t, database.SprintActive, s.Status)
	assert.Equal(t, "Ship it", s.Goal)

	var task database.Task
	hs.must(eveToken, "task.create", map[string]any{"projectId": p.ID, "sprintId": s.ID, "title": "Planned"}, &task)
	hs.must(eveToken, "sprint.list", map[string]any{"projectId": p.ID}, &sprints)
	assert.Equal(t, 1, sprints[0].TaskCount)

	// Deleting a sprint sends its tasks back to the backlog
	hs.must(mgrToken, "sprint.delete", map[string]any{"id": s.ID}, nil)
	var detail TaskDetail
	hs.must(eveToken, "task.get", map[string]any{"id": task.ID}, &detail)
	assert.Nil(t, detail.SprintID)
	assertCode(t, hs.call(mgrToken, "sprint.delete", map[string]any{"id": s.ID}, nil), rpc.CodeNotFound)
}

func TestTasks(t *testing.T) {
	hs := newHarness(t)
	mgr, mgrToken := hs.user("Max", database.RoleManager, nil)
	_, otherToken := hs.user("Olga", database.RoleManager, nil)
	eve, eveToken := hs.user("Eve", database.RoleEmployee, &mgr.ID)
	tia, tiaToken := hs.user("Tia", database.RoleEmployee, &mgr.ID)
	uma, umaToken := hs.user("Uma", database.RoleEmployee, nil)

	var p, side database.Project
	hs.must(mgrToken, "project.create", map[string]any{"code": "ACME", "name": "Acme"}, &p)
	hs.must(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": eve.ID}, nil)
	hs.must(mgrToken, "project.addMember", map[string]any{"projectId": p.ID, "userId": tia.ID}, nil)
	hs.must(mgrToken, "project.create", map[string]any{"code": "SIDE", "name": "Side"}, &side)
	var sideSprint database.Sprint
	hs.must(mgrToken, "sprint.create", map[string]any{"projectId": side.ID, "name": "S", "startDate": "2026-03-02", "endDate": "2026-03-13"}, &sideSprint)

	assertCode(t, hs.call(eveToken, "task.create", map[string]any{"projectId": p.ID, "title": "Nope", "assigneeId": uma.ID}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(eveToken, "task.create", map[string]any{"projectId": p.ID, "title": "Nope", "sprintId": sideSprint.ID}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(eveToken, "task.create", map[string]any{"projectId": p.ID, "title": "Nope", "estimateHours": "-2"}, nil), rpc.CodeBadRequest)
	assertCode(t, hs.call(umaToken, "task.create", map[string]any{"projectId": p.ID, "title": "Nope"}, nil), rpc.CodeForbidden)

	var task database.Task
	hs.must(eveToken, "task.create", map[string]any{
		"projectId":     p.ID,
		"title":         "Write report",
		"priority":      "HIGH",
		"assigneeId":    tia.ID,
		"estimateHours": "4.5",
		"dueDate":       "2026-03-20",
	}, &task)
	assert.Equal(t, database.TaskTodo, task.Status)
	assert.Equal(t, eve.ID, task.ReporterID)
	assert.Equal(t, "Tia", task.AssigneeName)
	assert.Equal(t, "4.5", task.EstimateHours.Decimal.String())
	assert.Equal(t, 1, hs.unread(tiaToken))
	assert.Equal(t, 0, hs.unread(eveToken))

	// Visibility follows project membership
	var tasks []*database.Task
	hs.must(eveToken, "task.list", nil, &tasks)
	assert.Len(t, tasks, 1)
	hs.must(umaToken, "task.list", nil, &tasks)
	assert.Empty(t, tasks)
	hs.must(otherToken, "task.list", map[string]any{"projectId": p.ID}, &tasks)
	assert.Len(t, tasks, 1)
	assertCode(t, hs.call(umaToken, "task.get", map[string]any{"id": task.ID}, nil), rpc.CodeNotFound)
	assertCode(t, hs.call(umaToken, "task.list", map[string]any{"projectId": p.ID}, nil), rpc.CodeNotFound)

	// The reporter edits, only the assignee or a manager moves it
	assertCode(t, hs.call(eveToken, "task.updateStatus", map[string]any{"id": task.ID, "status": "IN_PROGRESS"}, nil), rpc.CodeForbidden)
	hs.must(tiaToken, "task.updateStatus", map[string]any{"id": task.ID, "status": "IN_PROGRESS"}, &task)
	assert.Equal(t, database.TaskInProgress, task.Status)
	hs.must(eveToken, "task.update", map[string]any{"id": task.ID, "title": "Write the report", "status": "IN_PROGRESS", "priority": "URGENT"}, &task)
	assert.Equal(t, "Write the report", task.Title)
	assert.False(t, task.EstimateHours.Valid)

	var mine []*database.Task
	hs.must(tiaToken, "task.mine", nil, &mine)
	assert.Len(t, mine, 1)

	// Comments notify the other people on the task
	var comment database.TaskComment
	hs.must(tiaToken, "task.addComment", map[string]any{"taskId": task.ID, "body": "Halfway there"}, &comment)
	assert.Equal(t, "Tia", comment.AuthorName)
	assert.Equal(t, 1, hs.unread(eveToken))
	assert.Equal(t, 1, hs.unread(tiaToken))
	assertCode(t, hs.call(umaToken, "task.addComment", map[string]any{"taskId": task.ID, "body": "Hi"}, nil), rpc.CodeNotFound)
	assertCode(t, hs.call(otherToken, "task.addComment", map[string]any{"taskId": task.ID, "body": "Hi"}, nil), rpc.CodeForbidden)
	assertCode(t, hs.call(eveToken, "task.deleteComment", map[string]any{"id": comment.ID}, nil), rpc.CodeForbidden)

	var detail TaskDetail
	hs.must(eveToken, "task.get", map[string]any{"id": task.ID}, &detail)
	require.Len(t, detail.Comments, 1)
	assert.Equal(t, 1, detail.CommentCount)

	// Reassigning notifies the new assignee once
	assertCode(t, hs.call(otherToken, "task.assign", map[string]any{"id": task.ID, "assigneeId": eve.ID}, nil), rpc.CodeForbidden)
	hs.must(mgrToken, "task.assign", map[string]any{"id": task.ID, "assigneeId": eve.ID}, &task)
	assert.Equal(t, 2, hs.unread(eveToken))
	hs.must(mgrToken, "task.assign", map[string]any{"id": task.ID, "assigneeId": eve.ID}, &task)
	assert.Equal(t, 2, hs.unread(eveToken))
	assertCode(t, hs.call(tiaToken, "task.updateStatus", map[string]any{"id": task.ID, "status": "DONE"}, nil), rpc.CodeForbidden)
	hs.must(tiaToken, "task.mine", nil, &mine)
	assert.Empty(t, mine)

	hs.must(eveToken, "task.updateStatus", map[string]any{"id": task.ID, "status": "DONE"}, nil)
	hs.must(eveToken, "task.mine", nil, &mine)
	assert.Empty(t, mine)

	hs.must(tiaToken, "task.deleteComment", map[string]any{"id": comment.ID}, nil)
	assertCode(t, hs.call(tiaToken, "task.deleteComment", map[string]any{"id": comment.ID}, nil), rpc.CodeNotFound)

	assertCode(t, hs.call(eveToken, "task.delete", map[string]any{"id": task.ID}, nil), rpc.CodeForbidden)
	hs.must(mgrToken, "task.delete", map[string]any{"id": task.ID}, nil)
	assertCode(t, hs.call(eveToken, "task.get", map[string]any{"id": task.ID}, nil), rpc.CodeNotFound)
}
