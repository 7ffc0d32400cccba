package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/polaris-net/polaris-agent/internal/models"
)

const resultColumns = `id, task_id, server_task_id, timestamp_ms, task_type,
	target_host, result_value, success, details, uploaded`

// InsertResult appends one execution outcome. Results are never updated in
// place; each execution produces a new row, giving a full history per task.
func (s *Storage) InsertResult(ctx context.Context, r *models.TaskResult) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, server_task_id, timestamp_ms,
			task_type, target_host, result_value, success, details, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TaskID, nullString(r.ServerTaskID), r.TimestampMs, r.TaskType,
		nullString(r.TargetHost), r.ResultValue, boolToInt(r.Success),
		nullString(r.Details), boolToInt(r.Uploaded))
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// ResultsForTask returns the execution history of one task, newest first.
func (s *Storage) ResultsForTask(ctx context.Context, taskID int64) ([]*models.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM task_results
		WHERE task_id = ?
		ORDER BY timestamp_ms DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// LatestResultForTask returns the most recent execution outcome for a task,
// or nil when the task has never run.
func (s *Storage) LatestResultForTask(ctx context.Context, taskID int64) (*models.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM task_results
		WHERE task_id = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest result: %w", err)
	}
	defer rows.Close()
	results, err := collectResults(rows)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// UnsyncedResults returns every result not yet acknowledged by the server,
// oldest first.
func (s *Storage) UnsyncedResults(ctx context.Context) ([]*models.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM task_results
		WHERE uploaded = 0
		ORDER BY timestamp_ms ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// MarkResultsUploaded flips the uploaded flag on exactly the given ids.
func (s *Storage) MarkResultsUploaded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClause("UPDATE task_results SET uploaded = 1 WHERE id IN", ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark results uploaded: %w", err)
	}
	return nil
}

// UnsyncedResultCount reports how many results await upload.
func (s *Storage) UnsyncedResultCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_results WHERE uploaded = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced results: %w", err)
	}
	return count, nil
}

func collectResults(rows *sql.Rows) ([]*models.TaskResult, error) {
	var results []*models.TaskResult
	for rows.Next() {
		var (
			r        models.TaskResult
			serverID sql.NullString
			target   sql.NullString
			success  int
			details  sql.NullString
			uploaded int
		)
		err := rows.Scan(&r.ID, &r.TaskID, &serverID, &r.TimestampMs,
			&r.TaskType, &target, &r.ResultValue, &success, &details, &uploaded)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.ServerTaskID = stringPtr(serverID)
		r.TargetHost = stringPtr(target)
		r.Success = success != 0
		r.Details = stringPtr(details)
		r.Uploaded = uploaded != 0
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return results, nil
}
