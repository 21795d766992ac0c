package repo

import (
	"context"
	"database/sql"

	"taskflare/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,user_id,message,task_id,created_at) VALUES (?,?,?,?,?)`,
		n.ID, n.UserID, n.Message, nullable(n.TaskID), n.CreatedAt)
	return err
}

// ListNotifications returns a user's feed, newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,message,task_id,created_at FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var taskID sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &taskID, &n.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			n.TaskID = taskID.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
