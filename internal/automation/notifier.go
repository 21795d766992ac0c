package automation

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"taskflare/internal/domain"
	"taskflare/internal/events"
	"taskflare/internal/repo"
)

// Publisher pushes a notification to a user's live sessions.
// Best-effort: implementations must not block and give no delivery
// confirmation.
type Publisher interface {
	Publish(userID string, n domain.Notification)
}

// Notifier persists notification records and fans them out live. The
// stored row is the record of record; a failed or missed live publish
// is not retried.
type Notifier struct {
	Repo   repo.Repo
	Events events.Writer
	Hub    Publisher
	Now    func() time.Time
}

func (n *Notifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// NotifyTx persists the notification in the caller's transaction, so it
// commits or rolls back together with the effect that produced it. Call
// Publish once the transaction is durable.
func (n *Notifier) NotifyTx(ctx context.Context, tx *sql.Tx, userID, message, taskID string) (domain.Notification, error) {
	note := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   message,
		TaskID:    taskID,
		CreatedAt: n.now().UTC().Format(time.RFC3339),
	}
	if err := n.Repo.InsertNotification(ctx, tx, note); err != nil {
		return note, err
	}
	if err := n.Events.Append(ctx, tx, events.TypeNotificationCreated, "", "notification", note.ID, "automation", events.EventPayload{
		"user_id": userID,
		"task_id": taskID,
	}); err != nil {
		return note, err
	}
	return note, nil
}

// Publish fans a stored notification out to the user's live sessions.
func (n *Notifier) Publish(note domain.Notification) {
	if n.Hub != nil {
		n.Hub.Publish(note.UserID, note)
	}
}
