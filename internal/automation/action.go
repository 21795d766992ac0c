package automation

import (
	"encoding/json"
	"log"

	"taskflare/internal/domain"
)

// NotificationRequest asks the notification dispatcher to deliver a
// message. The executor never writes the notification store itself.
type NotificationRequest struct {
	UserID  string
	Message string
	TaskID  string
}

// ApplyAction applies one rule action to the in-memory task and reports
// whether the action took effect. AddBadge on a present badge is a no-op
// but still counts as applied; SendNotification without a resolvable
// assignee is skipped and does NOT count, so a later sweep can deliver
// it once someone is assigned. Malformed params are logged and skipped.
func ApplyAction(task domain.Task, action domain.Action, ruleID string) (domain.Task, *NotificationRequest, bool) {
	switch action.Kind {
	case domain.ActionAddBadge:
		badge, ok := stringParams(action, ruleID)
		if !ok {
			return task, nil, false
		}
		if !task.HasBadge(badge) {
			task.Badges = append(task.Badges, badge)
		}
		return task, nil, true
	case domain.ActionChangeStatus:
		status, ok := stringParams(action, ruleID)
		if !ok {
			return task, nil, false
		}
		task.Status = status
		return task, nil, true
	case domain.ActionSendNotification:
		message, ok := stringParams(action, ruleID)
		if !ok {
			return task, nil, false
		}
		// Target is the task's assignee as of this point in the dispatch,
		// so an earlier rule's reassignment is visible here.
		if task.AssigneeID == nil {
			return task, nil, false
		}
		return task, &NotificationRequest{UserID: *task.AssigneeID, Message: message, TaskID: task.ID}, true
	default:
		log.Printf("automation: rule %s has unknown action kind %q", ruleID, action.Kind)
		return task, nil, false
	}
}

func stringParams(action domain.Action, ruleID string) (string, bool) {
	var s string
	if err := json.Unmarshal(action.Params, &s); err != nil || s == "" {
		log.Printf("automation: rule %s has malformed %s params %s", ruleID, action.Kind, action.Params)
		return "", false
	}
	return s, true
}
