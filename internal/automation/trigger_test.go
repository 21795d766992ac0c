package automation_test

import (
	"encoding/json"
	"testing"
	"time"

	"taskflare/internal/automation"
	"taskflare/internal/domain"
)

func strPtr(s string) *string { return &s }

func rule(triggerKind, condition string) domain.Automation {
	return domain.Automation{
		ID:      "rule-1",
		Trigger: domain.Trigger{Kind: triggerKind, Condition: json.RawMessage(condition)},
	}
}

func TestMatchesStatusChange(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := rule(domain.TriggerStatusChange, `"Done"`)

	cases := []struct {
		name string
		prev string
		cur  string
		want bool
	}{
		{"transition into target", "In Progress", "Done", true},
		{"transition elsewhere", "To Do", "In Progress", false},
		{"no transition", "Done", "Done", false},
		{"transition out of target", "Done", "To Do", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := automation.Event{
				Previous: automation.Snapshot{Status: tc.prev},
				Current:  automation.Snapshot{Status: tc.cur},
				Source:   automation.SourceEvent,
			}
			if got := automation.Matches(ev, r, now); got != tc.want {
				t.Fatalf("Matches(%s->%s) = %v, want %v", tc.prev, tc.cur, got, tc.want)
			}
		})
	}
}

func TestMatchesAssigneeChange(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := rule(domain.TriggerAssigneeChange, `"user-1"`)

	cases := []struct {
		name string
		prev *string
		cur  *string
		want bool
	}{
		{"assigned to target", nil, strPtr("user-1"), true},
		{"reassigned to target", strPtr("user-2"), strPtr("user-1"), true},
		{"assigned to other", nil, strPtr("user-2"), false},
		{"no change", strPtr("user-1"), strPtr("user-1"), false},
		{"unassigned", strPtr("user-1"), nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := automation.Event{
				Previous: automation.Snapshot{AssigneeID: tc.prev},
				Current:  automation.Snapshot{AssigneeID: tc.cur},
				Source:   automation.SourceEvent,
			}
			if got := automation.Matches(ev, r, now); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesDueDatePassed(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	due := func(d time.Duration) *string {
		s := now.Add(-d).Format(time.RFC3339)
		return &s
	}

	cases := []struct {
		name      string
		condition string
		due       *string
		want      bool
	}{
		{"just overdue, zero days", `0`, due(time.Minute), true},
		{"not yet due", `0`, due(-time.Hour), false},
		{"23h59m is zero days", `1`, due(23*time.Hour + 59*time.Minute), false},
		{"24h is one day", `1`, due(24 * time.Hour), true},
		{"three days over two-day threshold", `2`, due(72 * time.Hour), true},
		{"one day under two-day threshold", `2`, due(24 * time.Hour), false},
		{"numeric string condition", `"1"`, due(25 * time.Hour), true},
		{"no due date", `0`, nil, false},
		{"unparseable due date", `0`, strPtr("next tuesday"), false},
		{"malformed condition", `"soon"`, due(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := automation.Event{
				Previous: automation.Snapshot{DueDate: tc.due},
				Current:  automation.Snapshot{DueDate: tc.due},
				Source:   automation.SourceSweep,
			}
			r := rule(domain.TriggerDueDatePassed, tc.condition)
			if got := automation.Matches(ev, r, now); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesDueDatePassedOnEditPath(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	overdue := now.Add(-48 * time.Hour).Format(time.RFC3339)
	r := rule(domain.TriggerDueDatePassed, `1`)

	// An edit that did not touch the due date never evaluates the rule,
	// even if the task is overdue; that belongs to the sweeper.
	ev := automation.Event{
		Previous: automation.Snapshot{Status: "To Do", DueDate: &overdue},
		Current:  automation.Snapshot{Status: "Done", DueDate: &overdue},
		Source:   automation.SourceEvent,
	}
	if automation.Matches(ev, r, now) {
		t.Fatalf("expected no match when the edit left the due date alone")
	}

	// Setting an already-elapsed due date matches immediately.
	ev = automation.Event{
		Previous: automation.Snapshot{Status: "To Do"},
		Current:  automation.Snapshot{Status: "To Do", DueDate: &overdue},
		Source:   automation.SourceEvent,
	}
	if !automation.Matches(ev, r, now) {
		t.Fatalf("expected match when the edit set an elapsed due date")
	}
}

func TestMatchesUnknownTriggerKind(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := automation.Event{
		Previous: automation.Snapshot{Status: "To Do"},
		Current:  automation.Snapshot{Status: "Done"},
		Source:   automation.SourceEvent,
	}
	if automation.Matches(ev, rule("column_change", `"Done"`), now) {
		t.Fatalf("expected unknown trigger kind to never match")
	}
}

func TestApplyActionAddBadge(t *testing.T) {
	task := domain.Task{ID: "t-1", Badges: []string{"urgent"}}
	action := domain.Action{Kind: domain.ActionAddBadge, Params: json.RawMessage(`"complete"`)}

	got, req, applied := automation.ApplyAction(task, action, "rule-1")
	if !applied || req != nil {
		t.Fatalf("applied=%v req=%v", applied, req)
	}
	if len(got.Badges) != 2 || got.Badges[1] != "complete" {
		t.Fatalf("badges = %v", got.Badges)
	}

	// Present badge is a no-op that still counts as applied.
	got, _, applied = automation.ApplyAction(got, action, "rule-1")
	if !applied || len(got.Badges) != 2 {
		t.Fatalf("applied=%v badges=%v", applied, got.Badges)
	}
}

func TestApplyActionChangeStatus(t *testing.T) {
	task := domain.Task{ID: "t-1", Status: "In Progress"}
	action := domain.Action{Kind: domain.ActionChangeStatus, Params: json.RawMessage(`"Done"`)}
	got, req, applied := automation.ApplyAction(task, action, "rule-1")
	if !applied || req != nil || got.Status != "Done" {
		t.Fatalf("applied=%v req=%v status=%s", applied, req, got.Status)
	}
}

func TestApplyActionSendNotification(t *testing.T) {
	action := domain.Action{Kind: domain.ActionSendNotification, Params: json.RawMessage(`"heads up"`)}

	// Unassigned task: skipped, not applied, so the sweep can retry later.
	_, req, applied := automation.ApplyAction(domain.Task{ID: "t-1"}, action, "rule-1")
	if applied || req != nil {
		t.Fatalf("expected skip for unassigned task, applied=%v req=%v", applied, req)
	}

	task := domain.Task{ID: "t-1", AssigneeID: strPtr("user-1")}
	_, req, applied = automation.ApplyAction(task, action, "rule-1")
	if !applied || req == nil {
		t.Fatalf("applied=%v req=%v", applied, req)
	}
	if req.UserID != "user-1" || req.Message != "heads up" || req.TaskID != "t-1" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestApplyActionMalformedParams(t *testing.T) {
	task := domain.Task{ID: "t-1", Status: "To Do"}
	for _, kind := range []string{domain.ActionAddBadge, domain.ActionChangeStatus, domain.ActionSendNotification} {
		got, req, applied := automation.ApplyAction(task, domain.Action{Kind: kind, Params: json.RawMessage(`42`)}, "rule-1")
		if applied || req != nil {
			t.Fatalf("%s: expected skip for malformed params", kind)
		}
		if got.Status != task.Status || len(got.Badges) != 0 {
			t.Fatalf("%s: task mutated despite skip", kind)
		}
	}
}
