// Package scheduler wakes periodically, finds the tasks that are due, and
// runs them through the executor one at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polaris-net/polaris-agent/internal/models"
)

// Store is the task persistence surface the scheduler needs.
type Store interface {
	DueOneShotTasks(ctx context.Context, nowMs int64) ([]*models.Task, error)
	PeriodicTasks(ctx context.Context) ([]*models.Task, error)
	InsertResult(ctx context.Context, r *models.TaskResult) error
	MarkTaskCompleted(ctx context.Context, id int64) error
}

// Executor runs one task to completion and reports the outcome as data.
type Executor interface {
	Execute(ctx context.Context, task *models.Task) *models.TaskResult
}

// Scheduler evaluates due work on demand. It holds no timer of its own; a
// Recurring registration (or a manual trigger) calls Wake.
type Scheduler struct {
	store    Store
	executor Executor
	logger   *slog.Logger
	nowFn    func() time.Time
}

func New(store Store, executor Executor, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Wake runs one evaluation pass: every enabled one-shot task whose scheduled
// time has arrived, then every enabled periodic task. Tasks run sequentially;
// a failing task never blocks the rest of the pass. The error reports only
// the inability to fetch the work list.
func (s *Scheduler) Wake(ctx context.Context) error {
	nowMs := s.nowFn().UnixMilli()

	due, err := s.store.DueOneShotTasks(ctx, nowMs)
	if err != nil {
		return fmt.Errorf("fetch due tasks: %w", err)
	}
	periodic, err := s.store.PeriodicTasks(ctx)
	if err != nil {
		return fmt.Errorf("fetch periodic tasks: %w", err)
	}

	if len(due) == 0 && len(periodic) == 0 {
		s.logger.Debug("wake found no due tasks")
		return nil
	}
	s.logger.Info("wake pass starting", "one_shot", len(due), "periodic", len(periodic))

	for _, task := range due {
		s.runOne(ctx, task, true)
	}
	for _, task := range periodic {
		s.runOne(ctx, task, false)
	}
	return nil
}

// runOne executes a task and persists its result. A one-shot is marked
// completed once it has been attempted, whether or not the attempt
// succeeded, so it can never run twice.
func (s *Scheduler) runOne(ctx context.Context, task *models.Task, oneShot bool) {
	result := s.executor.Execute(ctx, task)

	if err := s.store.InsertResult(ctx, result); err != nil {
		s.logger.Error("result insert failed", "task_id", task.ID, "error", err)
	}

	if oneShot {
		if err := s.store.MarkTaskCompleted(ctx, task.ID); err != nil {
			s.logger.Error("completion mark failed", "task_id", task.ID, "error", err)
		}
	}
}
