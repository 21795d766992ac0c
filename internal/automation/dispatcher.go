package automation

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"taskflare/internal/domain"
	"taskflare/internal/events"
	"taskflare/internal/repo"
)

// Dispatcher runs rule evaluation for task-state transitions. The task
// accessor calls OnTaskMutated synchronously after every persisted edit;
// the sweeper feeds synthesized events through the same apply path.
type Dispatcher struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier *Notifier
	Now      func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// errAlreadyFired marks a (rule, task) pair whose action was applied by
// an earlier sweep; skipping it is normal operation, not a failure.
var errAlreadyFired = errors.New("rule already fired for task")

// OnTaskMutated evaluates and applies the project's rules against the
// edit's before/after snapshots. It returns the task with any
// automation effects folded in, so the caller's response reflects them.
//
// Rule failures never propagate: the triggering edit already succeeded,
// so automation problems are logged and otherwise invisible.
//
// Every rule is matched against the snapshots taken at entry. A
// ChangeStatus effect from one rule therefore cannot trigger another
// status rule (or re-trigger itself) within this dispatch; the pass is
// one scan over the rule set, no fixpoint iteration.
func (d *Dispatcher) OnTaskMutated(ctx context.Context, previous Snapshot, current domain.Task) domain.Task {
	ev := Event{
		TaskID:    current.ID,
		ProjectID: current.ProjectID,
		Previous:  previous,
		Current:   SnapshotOf(current),
		Source:    SourceEvent,
	}
	if ev.dueDateChanged() {
		if err := d.clearFirings(ctx, current.ID); err != nil {
			log.Printf("automation: clear firings for task %s: %v", current.ID, err)
		}
	}
	rules, err := d.Repo.ListAutomations(ctx, current.ProjectID)
	if err != nil {
		log.Printf("automation: list rules for project %s: %v", current.ProjectID, err)
		return current
	}
	now := d.now()
	result := current
	for _, rule := range rules {
		if !Matches(ev, rule, now) {
			continue
		}
		// Only due-date rules carry a firing marker: edit-path rules are
		// scoped to one transition and exactly-once falls out of the
		// single pass, but the sweep would otherwise re-fire them.
		dedup := rule.Trigger.Kind == domain.TriggerDueDatePassed
		if t, ok := d.ApplyRule(ctx, rule, current.ID, dedup); ok {
			result = t
		}
	}
	return result
}

func (d *Dispatcher) clearFirings(ctx context.Context, taskID string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := d.Repo.ClearFirings(ctx, tx, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyRule applies one matched rule to the task in its own
// transaction and reports whether the action took effect. A conflicting
// concurrent write is retried once from a fresh read; any other failure
// aborts only this rule, leaving the last persisted state as the
// baseline for sibling rules.
func (d *Dispatcher) ApplyRule(ctx context.Context, rule domain.Automation, taskID string, dedup bool) (domain.Task, bool) {
	var (
		task domain.Task
		note *domain.Notification
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		task, note, err = d.applyRuleOnce(ctx, rule, taskID, dedup)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		break
	}
	switch {
	case err == nil:
	case errors.Is(err, errAlreadyFired):
		return task, false
	case errors.Is(err, repo.ErrNotFound):
		// Task deleted mid-dispatch; nothing to apply.
		return task, false
	case errors.Is(err, repo.ErrConflict):
		log.Printf("automation: rule %s on task %s: gave up after conflict retry", rule.ID, taskID)
		return task, false
	default:
		log.Printf("automation: rule %s on task %s: %v", rule.ID, taskID, err)
		return task, false
	}
	if note != nil && d.Notifier != nil {
		d.Notifier.Publish(*note)
	}
	return task, true
}

func (d *Dispatcher) applyRuleOnce(ctx context.Context, rule domain.Automation, taskID string, dedup bool) (domain.Task, *domain.Notification, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	// Re-read right before computing the mutation: an earlier rule in
	// this dispatch, or a racing dispatch, may have moved the task.
	task, err := d.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return task, nil, err
	}
	if dedup {
		fired, err := d.Repo.HasFiring(ctx, tx, rule.ID, taskID)
		if err != nil {
			return task, nil, err
		}
		if fired {
			return task, nil, errAlreadyFired
		}
	}

	prevUpdatedAt := task.UpdatedAt
	prevBadges := len(task.Badges)
	mutated, req, applied := ApplyAction(task, rule.Action, rule.ID)
	if !applied {
		return task, nil, nil
	}
	now := d.now().UTC().Format(time.RFC3339)
	mutated.UpdatedAt = now

	for _, badge := range mutated.Badges[prevBadges:] {
		if err := d.Repo.AddBadge(ctx, tx, taskID, badge); err != nil {
			return task, nil, err
		}
	}
	if err := d.Repo.UpdateTask(ctx, tx, mutated, prevUpdatedAt); err != nil {
		return task, nil, err
	}
	if dedup {
		if err := d.Repo.RecordFiring(ctx, tx, rule.ID, taskID, now); err != nil {
			return task, nil, err
		}
	}
	// The notification commits with the firing marker: if the store
	// rejects it, the rollback re-arms the rule instead of losing the
	// delivery.
	var note *domain.Notification
	if req != nil && d.Notifier != nil {
		n, err := d.Notifier.NotifyTx(ctx, tx, req.UserID, req.Message, req.TaskID)
		if err != nil {
			return task, nil, err
		}
		note = &n
	}
	if err := d.Events.Append(ctx, tx, events.TypeAutomationFired, mutated.ProjectID, "task", taskID, "automation", events.EventPayload{
		"rule":      rule.ID,
		"rule_name": rule.Name,
		"trigger":   rule.Trigger.Kind,
		"action":    rule.Action.Kind,
	}); err != nil {
		return task, nil, err
	}
	if err := tx.Commit(); err != nil {
		return task, nil, err
	}
	return mutated, note, nil
}
