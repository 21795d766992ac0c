package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskflare/internal/automation"
	"taskflare/internal/config"
	"taskflare/internal/domain"
	"taskflare/internal/events"
	"taskflare/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Automations *automation.Dispatcher
	Notifier    *automation.Notifier
	Now         func() time.Time
}

func New(db *sql.DB, cfg *config.Config, hub automation.Publisher) Engine {
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	notifier := &automation.Notifier{Repo: r, Events: w, Hub: hub}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: w,
		Config: cfg,
		Automations: &automation.Dispatcher{
			DB:       db,
			Repo:     r,
			Events:   w,
			Notifier: notifier,
		},
		Notifier: notifier,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SetNow overrides the clock across the engine and its dispatchers.
func (e *Engine) SetNow(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
	e.Automations.Now = now
	e.Automations.Events.Now = now
	e.Notifier.Now = now
	e.Notifier.Events.Now = now
}

// NewSweeper builds the due-date sweeper from the engine's config.
func (e Engine) NewSweeper() *automation.Sweeper {
	s := &automation.Sweeper{
		Repo:       e.Repo,
		Dispatcher: e.Automations,
		Now:        e.Now,
	}
	if e.Config != nil {
		s.Interval = e.Config.SweepInterval()
		s.MaxTasks = e.Config.SweepMaxTasks()
	}
	return s
}

// InitProject creates a project with its default board config.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	if projectID == "" {
		projectID = uuid.New().String()
	}
	if name == "" {
		name = projectID
	}
	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Description: description,
		CreatedBy:   actorID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	AssigneeID  string
	DueDate     string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	cfg, err := e.projectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = cfg.DefaultStatus()
	}
	if !cfg.HasStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %q: not in project status set", opts.Status)
	}
	if opts.DueDate != "" {
		due, err := time.Parse(time.RFC3339, opts.DueDate)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid due_date: %w", err)
		}
		// Stored in UTC so the sweep's string comparison orders correctly.
		opts.DueDate = due.UTC().Format(time.RFC3339)
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. Assign and DueDate
// distinguish "leave alone" (nil) from "clear" (pointer to empty).
type TaskUpdateOptions struct {
	ID          string
	Title       string
	Description *string
	Status      string
	Assign      *string
	DueDate     *string
	ActorID     string
}

// UpdateTask persists the edit, then runs the automation dispatcher in
// the request tail. The returned task includes automation effects, so
// the caller's response shows badges or status changes their own edit
// triggered.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	current, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return current, err
	}
	cfg, err := e.projectConfig(ctx, current.ProjectID)
	if err != nil {
		return current, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	previous := automation.SnapshotOf(t)
	prevUpdatedAt := t.UpdatedAt

	if opts.Title != "" {
		t.Title = opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != "" {
		if !cfg.HasStatus(opts.Status) {
			return t, fmt.Errorf("invalid status %q: not in project status set", opts.Status)
		}
		t.Status = opts.Status
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = opts.Assign
		}
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			due, err := time.Parse(time.RFC3339, *opts.DueDate)
			if err != nil {
				return t, fmt.Errorf("invalid due_date: %w", err)
			}
			normalized := due.UTC().Format(time.RFC3339)
			t.DueDate = &normalized
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateTask(ctx, tx, t, prevUpdatedAt); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskUpdated, t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": previous.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	return e.Automations.OnTaskMutated(ctx, previous, t), nil
}

// AutomationCreateOptions are parameters for creating a rule.
type AutomationCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	Trigger   domain.Trigger
	Action    domain.Action
	ActorID   string
}

func (e Engine) CreateAutomation(ctx context.Context, opts AutomationCreateOptions) (domain.Automation, error) {
	if opts.Name == "" {
		return domain.Automation{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Automation{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Automation{}, err
	}
	cfg, err := e.projectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.Automation{}, err
	}
	if err := validateRule(cfg, opts.Trigger, opts.Action); err != nil {
		return domain.Automation{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	a := domain.Automation{
		ID:        id,
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		Trigger:   opts.Trigger,
		Action:    opts.Action,
		CreatedBy: opts.ActorID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAutomation(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAutomationCreated, a.ProjectID, "automation", a.ID, opts.ActorID, events.EventPayload{
		"name":    a.Name,
		"trigger": a.Trigger.Kind,
		"action":  a.Action.Kind,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// AutomationUpdateOptions patch an existing rule.
type AutomationUpdateOptions struct {
	ID      string
	Name    string
	Trigger *domain.Trigger
	Action  *domain.Action
	ActorID string
}

func (e Engine) UpdateAutomation(ctx context.Context, opts AutomationUpdateOptions) (domain.Automation, error) {
	a, err := e.Repo.GetAutomation(ctx, opts.ID)
	if err != nil {
		return a, err
	}
	if opts.Name != "" {
		a.Name = opts.Name
	}
	if opts.Trigger != nil {
		a.Trigger = *opts.Trigger
	}
	if opts.Action != nil {
		a.Action = *opts.Action
	}
	cfg, err := e.projectConfig(ctx, a.ProjectID)
	if err != nil {
		return a, err
	}
	if err := validateRule(cfg, a.Trigger, a.Action); err != nil {
		return a, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAutomation(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAutomationUpdated, a.ProjectID, "automation", a.ID, opts.ActorID, events.EventPayload{
		"name": a.Name,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// projectConfig resolves the board config for a project, preferring the
// stored per-project row over the config the engine started with.
func (e Engine) projectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if e.Config != nil {
		return e.Config, nil
	}
	return nil, errors.New("config not loaded")
}

// validateRule rejects mixed trigger/action shapes at creation time.
// Already-stored rows get no such guarantee; the evaluator stays
// defensive regardless.
func validateRule(cfg *config.Config, trigger domain.Trigger, action domain.Action) error {
	switch trigger.Kind {
	case domain.TriggerStatusChange:
		s, err := decodeString(trigger.Condition)
		if err != nil {
			return fmt.Errorf("invalid trigger condition: expected status string: %w", err)
		}
		if !cfg.HasStatus(s) {
			return fmt.Errorf("invalid trigger condition: status %q not in project status set", s)
		}
	case domain.TriggerAssigneeChange:
		if _, err := decodeString(trigger.Condition); err != nil {
			return fmt.Errorf("invalid trigger condition: expected user id string: %w", err)
		}
	case domain.TriggerDueDatePassed:
		var days int
		if err := json.Unmarshal(trigger.Condition, &days); err != nil {
			return fmt.Errorf("invalid trigger condition: expected integer days: %w", err)
		}
		if days < 0 {
			return errors.New("invalid trigger condition: days must not be negative")
		}
	default:
		return fmt.Errorf("invalid trigger kind %q", trigger.Kind)
	}
	switch action.Kind {
	case domain.ActionAddBadge, domain.ActionSendNotification:
		if _, err := decodeString(action.Params); err != nil {
			return fmt.Errorf("invalid action params: %w", err)
		}
	case domain.ActionChangeStatus:
		s, err := decodeString(action.Params)
		if err != nil {
			return fmt.Errorf("invalid action params: %w", err)
		}
		if !cfg.HasStatus(s) {
			return fmt.Errorf("invalid action params: status %q not in project status set", s)
		}
	default:
		return fmt.Errorf("invalid action kind %q", action.Kind)
	}
	return nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if s == "" {
		return "", errors.New("must not be empty")
	}
	return s, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
