package domain

import "encoding/json"

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	Badges      []string `json:"badges,omitempty"`
	CreatedBy   string   `json:"created_by"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// HasBadge reports whether the badge is already in the task's badge set.
func (t Task) HasBadge(badge string) bool {
	for _, b := range t.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// Trigger kinds.
const (
	TriggerStatusChange   = "status_change"
	TriggerAssigneeChange = "assignee_change"
	TriggerDueDatePassed  = "due_date_passed"
)

// Action kinds.
const (
	ActionAddBadge         = "add_badge"
	ActionChangeStatus     = "change_status"
	ActionSendNotification = "send_notification"
)

// Trigger condition is raw JSON: its shape depends on the kind (status
// string, user id string, or integer day threshold). Stored rows may be
// hand-edited, so consumers must tolerate any shape.
type Trigger struct {
	Kind      string          `json:"kind" enum:"status_change,assignee_change,due_date_passed"`
	Condition json.RawMessage `json:"condition"`
}

type Action struct {
	Kind   string          `json:"kind" enum:"add_badge,change_status,send_notification"`
	Params json.RawMessage `json:"params"`
}

type Automation struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Trigger   Trigger `json:"trigger"`
	Action    Action  `json:"action"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	TaskID    string `json:"task_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
