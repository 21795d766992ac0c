// Package automation is the rule engine: it matches task-state
// transitions against stored rules and applies their effects exactly
// once per qualifying transition. Transitions arrive on two paths, a
// synchronous dispatch after every task edit and a periodic sweep for
// elapsed due dates; both feed the same evaluator and executor.
package automation

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"taskflare/internal/domain"
)

// Source identifies which path produced a transition event.
type Source string

const (
	SourceEvent Source = "event"
	SourceSweep Source = "sweep"
)

// Snapshot is the task state a dispatch compares against. Only fields
// that triggers inspect are captured.
type Snapshot struct {
	Status     string
	AssigneeID *string
	DueDate    *string
}

func SnapshotOf(t domain.Task) Snapshot {
	return Snapshot{Status: t.Status, AssigneeID: t.AssigneeID, DueDate: t.DueDate}
}

// Event is the before/after pair fed into rule evaluation. It is built
// once at dispatch entry and never updated mid-pass: a rule's effect is
// invisible to sibling rules' triggers, which keeps a dispatch a single
// deterministic scan over the rule set.
type Event struct {
	TaskID    string
	ProjectID string
	Previous  Snapshot
	Current   Snapshot
	Source    Source
}

func (ev Event) dueDateChanged() bool {
	return !sameOptional(ev.Previous.DueDate, ev.Current.DueDate)
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Matches reports whether the rule's trigger fires for the event. Pure
// aside from logging: a malformed condition (rule rows can be
// hand-edited) is a non-match, never an error.
func Matches(ev Event, rule domain.Automation, now time.Time) bool {
	switch rule.Trigger.Kind {
	case domain.TriggerStatusChange:
		target, ok := stringCondition(rule)
		if !ok {
			return false
		}
		return ev.Previous.Status != ev.Current.Status && ev.Current.Status == target
	case domain.TriggerAssigneeChange:
		target, ok := stringCondition(rule)
		if !ok {
			return false
		}
		if sameOptional(ev.Previous.AssigneeID, ev.Current.AssigneeID) {
			return false
		}
		// A change to unassigned never matches: the condition is a concrete id.
		return ev.Current.AssigneeID != nil && *ev.Current.AssigneeID == target
	case domain.TriggerDueDatePassed:
		// Canonically owned by the sweeper; on the edit path it is only
		// worth evaluating when the edit touched the due date.
		if ev.Source == SourceEvent && !ev.dueDateChanged() {
			return false
		}
		days, ok := daysCondition(rule)
		if !ok {
			return false
		}
		if ev.Current.DueDate == nil {
			return false
		}
		due, err := time.Parse(time.RFC3339, *ev.Current.DueDate)
		if err != nil {
			log.Printf("automation: rule %s: task %s has unparseable due date %q", rule.ID, ev.TaskID, *ev.Current.DueDate)
			return false
		}
		if now.Before(due) {
			return false
		}
		// Fractional days round down: 23h59m overdue is 0 days overdue.
		return int(now.Sub(due).Hours()/24) >= days
	default:
		log.Printf("automation: rule %s has unknown trigger kind %q", rule.ID, rule.Trigger.Kind)
		return false
	}
}

func stringCondition(rule domain.Automation) (string, bool) {
	var s string
	if err := json.Unmarshal(rule.Trigger.Condition, &s); err != nil || s == "" {
		log.Printf("automation: rule %s has malformed %s condition %s", rule.ID, rule.Trigger.Kind, rule.Trigger.Condition)
		return "", false
	}
	return s, true
}

// daysCondition accepts a JSON number or a numeric string; stored rules
// predate strict validation.
func daysCondition(rule domain.Automation) (int, bool) {
	var n int
	if err := json.Unmarshal(rule.Trigger.Condition, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(rule.Trigger.Condition, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	log.Printf("automation: rule %s has malformed day threshold %s", rule.ID, rule.Trigger.Condition)
	return 0, false
}
