package automation

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"taskflare/internal/domain"
	"taskflare/internal/repo"
)

// Sweeper periodically scans overdue tasks and feeds due-date rules
// through the dispatcher's apply path. It is the canonical trigger
// source for due_date_passed: no discrete edit marks a deadline
// elapsing, so only elapsed time can.
type Sweeper struct {
	Repo       repo.Repo
	Dispatcher *Dispatcher
	Interval   time.Duration
	MaxTasks   int
	Now        func() time.Time

	running atomic.Bool
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start runs the sweep loop until the context is canceled. A tick that
// is still in progress when the next is due causes the new tick to be
// skipped, not queued.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		interval := s.Interval
		if interval <= 0 {
			interval = 2 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := s.RunSweepTick(ctx, s.now()); err != nil {
				log.Printf("sweep: %v", err)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunSweepTick scans tasks with elapsed due dates and applies matching
// due-date rules. Pairs that already fired are skipped via the
// persisted marker, so a standing overdue task produces its effect
// once, not once per tick. Tasks or rules deleted mid-scan are skipped
// without aborting the batch.
func (s *Sweeper) RunSweepTick(ctx context.Context, now time.Time) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	maxTasks := s.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 500
	}
	tasks, err := s.Repo.ListOverdueTasks(ctx, now, maxTasks)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rules, err := s.Repo.ListAutomationsByTrigger(ctx, task.ProjectID, domain.TriggerDueDatePassed)
		if err != nil {
			log.Printf("sweep: list rules for project %s: %v", task.ProjectID, err)
			continue
		}
		snap := SnapshotOf(task)
		ev := Event{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Previous:  snap,
			Current:   snap,
			Source:    SourceSweep,
		}
		for _, rule := range rules {
			if !Matches(ev, rule, now) {
				continue
			}
			s.Dispatcher.ApplyRule(ctx, rule, task.ID, true)
		}
	}
	return nil
}
