package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/polaris-net/polaris-agent/internal/models"
)

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, server_id, name, type, parameters_json, enabled,
	scheduled_at_ms, interval_seconds, completed`

// InsertTask stores a locally-created task and assigns its local id.
func (s *Storage) InsertTask(ctx context.Context, t *models.Task) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (server_id, name, type, parameters_json, enabled,
			scheduled_at_ms, interval_seconds, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(t.ServerID), t.Name, t.Type, t.ParametersJSON,
		boolToInt(t.Enabled), nullInt64(t.ScheduledAtMs),
		nullInt(t.IntervalSeconds), boolToInt(t.Completed))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}
	t.ID = id
	return nil
}

// UpsertServerTasks applies a batch of server-defined tasks with replace
// semantics: a task whose server id already exists locally has its
// definition fields overwritten in place, preserving the local id so that
// existing result history keeps its cascade key. Unknown server ids are
// inserted as new tasks. The whole batch is one transaction.
func (s *Storage) UpsertServerTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if t.ServerID == nil {
			return fmt.Errorf("server task %q has no server id", t.Name)
		}
		var localID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM tasks WHERE server_id = ?`, *t.ServerID).Scan(&localID)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE tasks
				SET name = ?, type = ?, parameters_json = ?, enabled = ?,
					scheduled_at_ms = ?, interval_seconds = ?, completed = ?
				WHERE id = ?
			`, t.Name, t.Type, t.ParametersJSON, boolToInt(t.Enabled),
				nullInt64(t.ScheduledAtMs), nullInt(t.IntervalSeconds),
				boolToInt(t.Completed), localID)
			if err != nil {
				return fmt.Errorf("failed to replace task %s: %w", *t.ServerID, err)
			}
			t.ID = localID
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (server_id, name, type, parameters_json,
					enabled, scheduled_at_ms, interval_seconds, completed)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, *t.ServerID, t.Name, t.Type, t.ParametersJSON,
				boolToInt(t.Enabled), nullInt64(t.ScheduledAtMs),
				nullInt(t.IntervalSeconds), boolToInt(t.Completed))
			if err != nil {
				return fmt.Errorf("failed to insert task %s: %w", *t.ServerID, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				t.ID = id
			}
		default:
			return fmt.Errorf("failed to look up task %s: %w", *t.ServerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task upsert: %w", err)
	}
	return nil
}

// AllTasks returns the whole catalog, local and server-assigned alike.
func (s *Storage) AllTasks(ctx context.Context) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks ORDER BY id ASC
	`)
}

// GetTask returns one task by local id.
func (s *Storage) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// DueOneShotTasks returns enabled one-shot tasks whose due time has passed
// and that have not yet been executed.
func (s *Storage) DueOneShotTasks(ctx context.Context, nowMs int64) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE enabled = 1 AND completed = 0
			AND (interval_seconds IS NULL OR interval_seconds = 0)
			AND scheduled_at_ms IS NOT NULL AND scheduled_at_ms <= ?
		ORDER BY scheduled_at_ms ASC
	`, nowMs)
}

// PendingOneShotTasks returns enabled one-shot tasks scheduled in the
// future.
func (s *Storage) PendingOneShotTasks(ctx context.Context, nowMs int64) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE enabled = 1 AND completed = 0
			AND (interval_seconds IS NULL OR interval_seconds = 0)
			AND scheduled_at_ms IS NOT NULL AND scheduled_at_ms > ?
		ORDER BY scheduled_at_ms ASC
	`, nowMs)
}

// PeriodicTasks returns every enabled periodic task. Periodic tasks are
// eligible on every scheduler wake; the completed flag never excludes them.
func (s *Storage) PeriodicTasks(ctx context.Context) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE enabled = 1 AND interval_seconds IS NOT NULL AND interval_seconds != 0
		ORDER BY id ASC
	`)
}

// ManualTasks returns enabled tasks with no schedule at all.
func (s *Storage) ManualTasks(ctx context.Context) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE enabled = 1 AND scheduled_at_ms IS NULL
			AND (interval_seconds IS NULL OR interval_seconds = 0)
		ORDER BY id ASC
	`)
}

// CompletedTasks returns executed one-shot tasks, most recent first.
func (s *Storage) CompletedTasks(ctx context.Context) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE completed = 1
		ORDER BY scheduled_at_ms DESC
	`)
}

// MarkTaskCompleted records that a one-shot task has had its single
// execution attempt. The flag only ever moves from 0 to 1.
func (s *Storage) MarkTaskCompleted(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

// ServerAssignedIDs returns every server id known locally, for the pull
// protocol's excludedIds field.
func (s *Storage) ServerAssignedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id FROM tasks WHERE server_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query server ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan server id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating server ids: %w", err)
	}
	return ids, nil
}

// DeleteTasksByServerIDs removes tasks the server reports as deleted. Their
// results go with them via the cascade.
func (s *Storage) DeleteTasksByServerIDs(ctx context.Context, serverIDs []string) (int64, error) {
	if len(serverIDs) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(serverIDs))
	args := make([]any, len(serverIDs))
	for i, id := range serverIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE server_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// ClearTasks deletes the whole catalog (and, by cascade, every result).
func (s *Storage) ClearTasks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

// SeedDefaultTasks ensures the built-in manual probes exist, keyed by name
// so restarts never duplicate them.
func (s *Storage) SeedDefaultTasks(ctx context.Context) error {
	defaults := []*models.Task{
		{Name: "Ping Google DNS", Type: models.TaskTypePing,
			ParametersJSON: `{"host": "8.8.8.8", "count": 4}`, Enabled: true},
		{Name: "DNS Lookup (Google)", Type: models.TaskTypeDNS,
			ParametersJSON: `{"host": "google.com"}`, Enabled: true},
		{Name: "Web Page Load", Type: models.TaskTypeWeb,
			ParametersJSON: `{"url": "https://www.google.com"}`, Enabled: true},
	}
	for _, t := range defaults {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE name = ?`, t.Name).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check default task %q: %w", t.Name, err)
		}
		if count > 0 {
			continue
		}
		if err := s.InsertTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t         models.Task
		serverID  sql.NullString
		enabled   int
		schedAt   sql.NullInt64
		interval  sql.NullInt64
		completed int
	)
	err := scanner.Scan(&t.ID, &serverID, &t.Name, &t.Type, &t.ParametersJSON,
		&enabled, &schedAt, &interval, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}
	t.ServerID = stringPtr(serverID)
	t.Enabled = enabled != 0
	if schedAt.Valid {
		v := schedAt.Int64
		t.ScheduledAtMs = &v
	}
	t.IntervalSeconds = intPtr(interval)
	t.Completed = completed != 0
	return &t, nil
}
