package repo

import (
	"context"
	"database/sql"

	"taskflare/internal/domain"
)

func (r Repo) InsertAutomation(ctx context.Context, tx *sql.Tx, a domain.Automation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO automations(id,project_id,name,trigger_kind,trigger_condition_json,action_kind,action_params_json,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Name, a.Trigger.Kind, string(a.Trigger.Condition), a.Action.Kind, string(a.Action.Params), a.CreatedBy, a.CreatedAt)
	return err
}

func (r Repo) UpdateAutomation(ctx context.Context, tx *sql.Tx, a domain.Automation) error {
	res, err := tx.ExecContext(ctx, `UPDATE automations SET name=?, trigger_kind=?, trigger_condition_json=?, action_kind=?, action_params_json=? WHERE id=?`,
		a.Name, a.Trigger.Kind, string(a.Trigger.Condition), a.Action.Kind, string(a.Action.Params), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAutomation(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM automations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const automationColumns = `id,project_id,name,trigger_kind,trigger_condition_json,action_kind,action_params_json,created_by,created_at`

func scanAutomation(scan func(dest ...any) error) (domain.Automation, error) {
	var a domain.Automation
	var condition, params string
	err := scan(&a.ID, &a.ProjectID, &a.Name, &a.Trigger.Kind, &condition, &a.Action.Kind, &params, &a.CreatedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Trigger.Condition = []byte(condition)
	a.Action.Params = []byte(params)
	return a, nil
}

func (r Repo) GetAutomation(ctx context.Context, id string) (domain.Automation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id=?`, id)
	return scanAutomation(row.Scan)
}

// ListAutomations returns a project's rules in creation order, which is
// the order dispatches apply them in.
func (r Repo) ListAutomations(ctx context.Context, projectID string) ([]domain.Automation, error) {
	return r.listAutomations(ctx, `SELECT `+automationColumns+` FROM automations WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
}

// ListAutomationsByTrigger narrows to one trigger kind, same order.
func (r Repo) ListAutomationsByTrigger(ctx context.Context, projectID, triggerKind string) ([]domain.Automation, error) {
	return r.listAutomations(ctx, `SELECT `+automationColumns+` FROM automations WHERE project_id=? AND trigger_kind=? ORDER BY created_at ASC, id ASC`, projectID, triggerKind)
}

func (r Repo) listAutomations(ctx context.Context, query string, args ...any) ([]domain.Automation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// HasFiring reports whether the (rule, task) pair already had its action applied.
func (r Repo) HasFiring(ctx context.Context, tx *sql.Tx, automationID, taskID string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT 1 FROM automation_firings WHERE automation_id=? AND task_id=? LIMIT 1`, automationID, taskID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (r Repo) RecordFiring(ctx context.Context, tx *sql.Tx, automationID, taskID, firedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO automation_firings(automation_id,task_id,fired_at) VALUES (?,?,?)`,
		automationID, taskID, firedAt)
	return err
}

// ClearFirings re-arms all rules for a task. Called when the task's due
// date changes so a pushed-out-and-missed-again deadline can fire again.
func (r Repo) ClearFirings(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM automation_firings WHERE task_id=?`, taskID)
	return err
}
