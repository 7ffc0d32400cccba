package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polaris-net/polaris-agent/internal/models"
	"github.com/polaris-net/polaris-agent/internal/scheduler"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
)

const autoSyncJob = "auto-sync"

// Status is a read-only snapshot of the engine's last activity.
type Status struct {
	LastRunAt       time.Time `json:"lastRunAt,omitzero"`
	LastError       string    `json:"lastError,omitempty"`
	MetricsPushed   int64     `json:"metricsPushed"`
	ResultsPushed   int64     `json:"resultsPushed"`
	TasksPulled     int64     `json:"tasksPulled"`
	TasksReconciled int64     `json:"tasksReconciled"`
}

// Engine drives the offline-first exchange: unsynced rows go up, the task
// catalog comes down. Nothing is ever marked uploaded without a confirmed
// server acknowledgment, so a crashed or failed push re-sends the same rows
// next cycle.
type Engine struct {
	client    *Client
	store     *storage.Storage
	settings  *settings.Store
	recurring *scheduler.Recurring
	logger    *slog.Logger

	runMu  sync.Mutex // serializes cycles; auto and manual triggers may race
	statMu sync.Mutex
	status Status
}

func NewEngine(client *Client, store *storage.Storage, settings *settings.Store,
	recurring *scheduler.Recurring, logger *slog.Logger) *Engine {
	return &Engine{
		client:    client,
		store:     store,
		settings:  settings,
		recurring: recurring,
		logger:    logger,
	}
}

// RunCycle performs one full exchange: reconcile server-side deletions,
// pull the task catalog, then push results and measurements. Each step is
// isolated; a failing step never blocks the others, and all failures are
// joined into the returned error.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	err := errors.Join(
		e.ReconcileDeleted(ctx),
		e.PullTasks(ctx),
		e.SyncResults(ctx),
		e.SyncMetrics(ctx),
	)

	e.statMu.Lock()
	e.status.LastRunAt = time.Now()
	if err != nil {
		e.status.LastError = err.Error()
	} else {
		e.status.LastError = ""
	}
	e.statMu.Unlock()

	if err != nil {
		e.logger.Warn("sync cycle finished with errors", "error", err)
	} else {
		e.logger.Info("sync cycle finished")
	}
	return err
}

// SyncMetrics pushes every unsynced telemetry sample and marks exactly the
// pushed rows uploaded on acknowledgment.
func (e *Engine) SyncMetrics(ctx context.Context) error {
	metrics, err := e.store.UnsyncedMetrics(ctx)
	if err != nil {
		return fmt.Errorf("load unsynced metrics: %w", err)
	}
	if len(metrics) == 0 {
		return nil
	}

	batch := saveMeasurementsRequest{
		Measurements: make([]measurementDTO, len(metrics)),
	}
	ids := make([]int64, len(metrics))
	for i, m := range metrics {
		batch.Measurements[i] = toMeasurementDTO(m)
		ids[i] = m.ID
	}

	if err := e.client.PushMeasurements(ctx, batch); err != nil {
		return fmt.Errorf("push measurements: %w", err)
	}
	if err := e.store.MarkMetricsUploaded(ctx, ids); err != nil {
		return fmt.Errorf("mark metrics uploaded: %w", err)
	}

	e.addCount(func(s *Status) { s.MetricsPushed += int64(len(ids)) })
	e.logger.Info("metrics synced", "count", len(ids))
	return nil
}

// SyncResults pushes every unsynced probe outcome.
func (e *Engine) SyncResults(ctx context.Context) error {
	results, err := e.store.UnsyncedResults(ctx)
	if err != nil {
		return fmt.Errorf("load unsynced results: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	batch := saveResultsRequest{TestResults: make([]resultDTO, len(results))}
	ids := make([]int64, len(results))
	for i, r := range results {
		batch.TestResults[i] = toResultDTO(r)
		ids[i] = r.ID
	}

	if err := e.client.PushResults(ctx, batch); err != nil {
		return fmt.Errorf("push results: %w", err)
	}
	if err := e.store.MarkResultsUploaded(ctx, ids); err != nil {
		return fmt.Errorf("mark results uploaded: %w", err)
	}

	e.addCount(func(s *Status) { s.ResultsPushed += int64(len(ids)) })
	e.logger.Info("results synced", "count", len(ids))
	return nil
}

// ReconcileDeleted removes local copies of tasks the server has deleted.
// Runs before the catalog pull so a deleted task cannot be resurrected by a
// stale excludedIds list.
func (e *Engine) ReconcileDeleted(ctx context.Context) error {
	resp, err := e.client.DeletedTaskIDs(ctx)
	if err != nil {
		return fmt.Errorf("fetch deleted task ids: %w", err)
	}
	if !resp.Success {
		e.logger.Warn("server declined deleted-task query",
			"code", resp.Code, "message", resp.Message)
		return nil
	}
	if len(resp.DeletedTestIDs) == 0 {
		return nil
	}

	deleted, err := e.store.DeleteTasksByServerIDs(ctx, resp.DeletedTestIDs)
	if err != nil {
		return fmt.Errorf("delete reconciled tasks: %w", err)
	}
	if deleted > 0 {
		e.addCount(func(s *Status) { s.TasksReconciled += deleted })
		e.logger.Info("deleted tasks reconciled", "count", deleted)
	}
	return nil
}

// PullTasks fetches the server's task catalog and applies it with replace
// semantics, preserving local ids and result history.
func (e *Engine) PullTasks(ctx context.Context) error {
	known, err := e.store.ServerAssignedIDs(ctx)
	if err != nil {
		return fmt.Errorf("load known server ids: %w", err)
	}

	resp, err := e.client.PullTasks(ctx, known)
	if err != nil {
		return fmt.Errorf("pull tasks: %w", err)
	}
	if !resp.Success {
		// An application-level refusal is the server's call, not a local
		// fault. Log and move on.
		e.logger.Warn("server declined task pull",
			"code", resp.Code, "message", resp.Message)
		return nil
	}
	if len(resp.Tasks) == 0 {
		return nil
	}

	tasks := make([]*models.Task, len(resp.Tasks))
	for i, dto := range resp.Tasks {
		tasks[i] = dto.toTask()
	}
	if err := e.store.UpsertServerTasks(ctx, tasks); err != nil {
		return fmt.Errorf("apply pulled tasks: %w", err)
	}

	e.addCount(func(s *Status) { s.TasksPulled += int64(len(tasks)) })
	e.logger.Info("tasks pulled", "count", len(tasks))
	return nil
}

// Status returns a copy of the engine's counters.
func (e *Engine) Status() Status {
	e.statMu.Lock()
	defer e.statMu.Unlock()
	return e.status
}

// Arm registers (or cancels) the automatic sync job according to the
// current settings. Call again after any settings change; re-registration
// replaces the previous cadence.
func (e *Engine) Arm(ctx context.Context) {
	if !e.settings.AutoSyncEnabled(ctx) {
		e.recurring.Cancel(autoSyncJob)
		return
	}

	interval := e.settings.SyncInterval(ctx)
	e.recurring.Register(autoSyncJob, interval, scheduler.ReplaceExisting, func() {
		cycleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_ = e.RunCycle(cycleCtx)
	})
}

func (e *Engine) addCount(apply func(*Status)) {
	e.statMu.Lock()
	apply(&e.status)
	e.statMu.Unlock()
}
