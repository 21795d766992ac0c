package automation_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskflare/internal/config"
	"taskflare/internal/db"
	"taskflare/internal/domain"
	"taskflare/internal/engine"
	"taskflare/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

// advance moves the test clock forward.
func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg, nil)
	env := &testEnv{Engine: eng, Ctx: context.Background(), now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	env.Engine.SetNow(env.clock)
	if _, err := env.Engine.InitProject(env.Ctx, "proj-1", "test", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return env
}

func (e *testEnv) createRule(t *testing.T, name, triggerKind, condition, actionKind, params string) domain.Automation {
	t.Helper()
	a, err := e.Engine.CreateAutomation(e.Ctx, engine.AutomationCreateOptions{
		ProjectID: "proj-1",
		Name:      name,
		Trigger:   domain.Trigger{Kind: triggerKind, Condition: json.RawMessage(condition)},
		Action:    domain.Action{Kind: actionKind, Params: json.RawMessage(params)},
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create rule %s: %v", name, err)
	}
	return a
}

func (e *testEnv) createTask(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	opts.ProjectID = "proj-1"
	opts.ActorID = "tester"
	task, err := e.Engine.CreateTask(e.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (e *testEnv) countNotifications(t *testing.T, userID string) int {
	t.Helper()
	items, err := e.Engine.Repo.ListNotifications(e.Ctx, userID, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return len(items)
}

func TestDispatchAddsBadgeOnStatusChange(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "badge done", domain.TriggerStatusChange, `"Done"`, domain.ActionAddBadge, `"complete"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "ship it"})

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Done", ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Badges) != 1 || updated.Badges[0] != "complete" {
		t.Fatalf("returned task badges = %v, want [complete]", updated.Badges)
	}

	stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Badges) != 1 {
		t.Fatalf("stored badges = %v", stored.Badges)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "automation.fired", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one automation.fired event, got %d", len(events))
	}
}

func TestDispatchIsSinglePass(t *testing.T) {
	env := newTestEnv(t)
	// Rule A bounces Done back to To Do; rule B badges anything entering
	// To Do. B must not see A's effect within the same dispatch.
	env.createRule(t, "bounce", domain.TriggerStatusChange, `"Done"`, domain.ActionChangeStatus, `"To Do"`)
	env.createRule(t, "badge reopen", domain.TriggerStatusChange, `"To Do"`, domain.ActionAddBadge, `"boomerang"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "cascade bait", Status: "In Progress"})

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Done", ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "To Do" {
		t.Fatalf("status = %q, want To Do", updated.Status)
	}
	if len(updated.Badges) != 0 {
		t.Fatalf("badges = %v, want none: rule B saw a mid-dispatch state", updated.Badges)
	}

	// A later edit that genuinely enters To Do does trigger rule B.
	moved, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "In Progress", ActorID: "tester"})
	if err != nil {
		t.Fatalf("move out: %v", err)
	}
	back, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: moved.ID, Status: "To Do", ActorID: "tester"})
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if len(back.Badges) != 1 || back.Badges[0] != "boomerang" {
		t.Fatalf("badges = %v, want [boomerang]", back.Badges)
	}
}

func TestDispatchRulesApplyInCreationOrder(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "first", domain.TriggerStatusChange, `"Done"`, domain.ActionAddBadge, `"first"`)
	env.advance(time.Second)
	env.createRule(t, "second", domain.TriggerStatusChange, `"Done"`, domain.ActionAddBadge, `"second"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "ordered"})

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Done", ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Badges) != 2 {
		t.Fatalf("badges = %v, want both rules applied", updated.Badges)
	}
}

func TestDispatchNotifiesAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "done ping", domain.TriggerStatusChange, `"Done"`, domain.ActionSendNotification, `"task finished"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "notify me", AssigneeID: "user-1"})

	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Done", ActorID: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n := env.countNotifications(t, "user-1"); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestDispatchSkipsNotificationWithoutAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, "done ping", domain.TriggerStatusChange, `"Done"`, domain.ActionSendNotification, `"task finished"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "nobody home"})

	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "Done", ActorID: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM notifications`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count != 0 {
		t.Fatalf("notifications = %d, want 0", count)
	}
}

func TestApplyRuleDedupFiresOnce(t *testing.T) {
	env := newTestEnv(t)
	due := env.now.Add(-48 * time.Hour).Format(time.RFC3339)
	rule := env.createRule(t, "overdue badge", domain.TriggerDueDatePassed, `1`, domain.ActionAddBadge, `"overdue"`)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "late", DueDate: due})

	if _, ok := env.Engine.Automations.ApplyRule(env.Ctx, rule, task.ID, true); !ok {
		t.Fatalf("first apply should take effect")
	}
	if _, ok := env.Engine.Automations.ApplyRule(env.Ctx, rule, task.ID, true); ok {
		t.Fatalf("second apply should be suppressed by the firing marker")
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Badges) != 1 {
		t.Fatalf("badges = %v, want exactly one", stored.Badges)
	}
}

func TestApplyRuleKeepsMarkerWithNotification(t *testing.T) {
	env := newTestEnv(t)
	rule := env.createRule(t, "overdue ping", domain.TriggerDueDatePassed, `0`, domain.ActionSendNotification, `"task is overdue"`)
	due := env.now.Add(-time.Hour).Format(time.RFC3339)
	task := env.createTask(t, engine.TaskCreateOptions{Title: "flaky store", AssigneeID: "user-1", DueDate: due})

	// With the notification store unavailable the whole application must
	// roll back, firing marker included.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE notifications RENAME TO notifications_offline`); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, ok := env.Engine.Automations.ApplyRule(env.Ctx, rule, task.ID, true); ok {
		t.Fatalf("apply should fail when the notification cannot be stored")
	}
	var markers int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM automation_firings`).Scan(&markers); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if markers != 0 {
		t.Fatalf("markers = %d, want the rule left armed after rollback", markers)
	}

	// Once the store is back the rule fires and the user gets exactly one.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE notifications_offline RENAME TO notifications`); err != nil {
		t.Fatalf("rename back: %v", err)
	}
	if _, ok := env.Engine.Automations.ApplyRule(env.Ctx, rule, task.ID, true); !ok {
		t.Fatalf("apply should succeed after recovery")
	}
	if n := env.countNotifications(t, "user-1"); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestApplyRuleVanishedTask(t *testing.T) {
	env := newTestEnv(t)
	rule := env.createRule(t, "ghost", domain.TriggerDueDatePassed, `0`, domain.ActionAddBadge, `"overdue"`)
	if _, ok := env.Engine.Automations.ApplyRule(env.Ctx, rule, "no-such-task", true); ok {
		t.Fatalf("apply against a missing task must be a no-op")
	}
}
