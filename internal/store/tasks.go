package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = "id, uri, checksum, dest_name, priority, expire_at, extract, status, retry_count, next_attempt_at, error_message, final_path, correlation_id, archived, created_at, updated_at"

// Enqueue inserts a new task, or returns the existing row when the identifier
// was seen before. Re-delivered distribute commands land here, so the second
// insert must not clobber the first task's progress.
func (s *Store) Enqueue(ctx context.Context, task Task) (*Task, bool, error) {
	if task.ID == "" {
		return nil, false, errors.New("task id is empty")
	}
	existing, err := s.TaskByID(ctx, task.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO download_tasks (
            id, uri, checksum, dest_name, priority, expire_at, extract,
            status, retry_count, next_attempt_at, error_message, final_path,
            correlation_id, archived, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.URI,
		nullableString(task.Checksum),
		task.DestName,
		task.Priority,
		nullableTime(task.ExpireAt),
		boolToInt(task.Extract),
		StatusQueued,
		0,
		nil,
		nil,
		nil,
		nullableString(task.CorrelationID),
		0,
		timestamp,
		timestamp,
	); err != nil {
		return nil, false, fmt.Errorf("insert task: %w", err)
	}

	inserted, err := s.TaskByID(ctx, task.ID)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

// TaskByID fetches a task by identifier.
func (s *Store) TaskByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM download_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// NextReady returns the queued task a worker should claim next: highest
// priority first, then nearest deadline, then oldest. Tasks waiting out a
// retry backoff or already past their deadline are skipped.
func (s *Store) NextReady(ctx context.Context, now time.Time) (*Task, error) {
	stamp := now.UTC().Format(time.RFC3339Nano)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM download_tasks
         WHERE status = ? AND archived = 0
           AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
           AND (expire_at IS NULL OR expire_at > ?)
         ORDER BY priority DESC,
                  CASE WHEN expire_at IS NULL THEN 1 ELSE 0 END,
                  expire_at ASC,
                  created_at ASC
         LIMIT 1`,
		StatusQueued,
		stamp,
		stamp,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next ready task: %w", err)
	}
	return task, nil
}

// MarkInFlight moves a task into one of the worker-owned statuses.
func (s *Store) MarkInFlight(ctx context.Context, id string, status Status) error {
	if !status.InFlight() {
		return fmt.Errorf("status %q is not an in-flight status", status)
	}
	return s.setStatus(ctx, id, status, "")
}

// MarkCompleted records the final media path and ends the task successfully.
func (s *Store) MarkCompleted(ctx context.Context, id, finalPath string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, final_path = ?, error_message = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE id = ?`,
		StatusCompleted,
		finalPath,
		now,
		id,
	); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed ends the task after its retries are exhausted.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.setStatus(ctx, id, StatusFailed, errMsg)
}

// MarkExpired ends the task because its deadline passed before completion.
func (s *Store) MarkExpired(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusExpired, "deadline passed before completion")
}

func (s *Store) setStatus(ctx context.Context, id string, status Status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, error_message = ?, next_attempt_at = NULL, updated_at = ?
         WHERE id = ?`,
		status,
		nullableString(errMsg),
		now,
		id,
	); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// RequeueForRetry returns a failed attempt to the queue with a backoff
// deadline and bumps the attempt counter.
func (s *Store) RequeueForRetry(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, retry_count = retry_count + 1, next_attempt_at = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		StatusQueued,
		nextAttempt.UTC().Format(time.RFC3339Nano),
		nullableString(errMsg),
		now,
		id,
	); err != nil {
		return fmt.Errorf("requeue for retry: %w", err)
	}
	return nil
}

// ExpireOverdue marks queued tasks whose deadline has passed.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	stamp := now.UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, error_message = ?, next_attempt_at = NULL, updated_at = ?
         WHERE status = ? AND expire_at IS NOT NULL AND expire_at <= ?`,
		StatusExpired,
		"deadline passed before completion",
		stamp,
		StatusQueued,
		stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue tasks: %w", err)
	}
	return res.RowsAffected()
}

// RecoverInFlight returns crash-interrupted tasks to the queue on startup.
// Tasks already past their deadline are expired instead of requeued.
func (s *Store) RecoverInFlight(ctx context.Context, now time.Time) (int64, error) {
	stamp := now.UTC().Format(time.RFC3339Nano)
	expired, err := s.execWithRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, error_message = ?, next_attempt_at = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?) AND expire_at IS NOT NULL AND expire_at <= ?`,
		StatusExpired,
		"deadline passed before completion",
		stamp,
		StatusQueued,
		StatusDownloading,
		StatusVerifying,
		StatusExtracting,
		stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("expire interrupted tasks: %w", err)
	}

	requeued, err := s.execWithRetry(
		ctx,
		`UPDATE download_tasks
         SET status = ?, next_attempt_at = NULL, updated_at = ?
         WHERE status IN (?, ?, ?)`,
		StatusQueued,
		stamp,
		StatusDownloading,
		StatusVerifying,
		StatusExtracting,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted tasks: %w", err)
	}

	expiredCount, err := expired.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	requeuedCount, err := requeued.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return expiredCount + requeuedCount, nil
}

// Archive marks a terminal task as acknowledged so reports stop carrying it.
func (s *Store) Archive(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_tasks SET archived = 1, updated_at = ? WHERE id = ?`,
		now,
		id,
	); err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

// ListTasks returns tasks filtered by status set (or all tasks when no status
// is provided), newest first.
func (s *Store) ListTasks(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM download_tasks`
	orderClause := ` ORDER BY created_at DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UnarchivedTerminal returns finished tasks whose ack has not been delivered.
func (s *Store) UnarchivedTerminal(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM download_tasks
         WHERE archived = 0 AND status IN (?, ?, ?)
         ORDER BY updated_at`,
		StatusCompleted,
		StatusFailed,
		StatusExpired,
	)
	if err != nil {
		return nil, fmt.Errorf("list unarchived terminal tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM download_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates task state for status reports.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusExpired:
			health.Expired += count
		default:
			if status.InFlight() {
				health.InFlight += count
			}
		}
	}
	return health, nil
}

// RemoveTask deletes a task by identifier.
func (s *Store) RemoveTask(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM download_tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearArchived removes acknowledged terminal tasks.
func (s *Store) ClearArchived(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM download_tasks WHERE archived = 1`)
	if err != nil {
		return 0, fmt.Errorf("clear archived tasks: %w", err)
	}
	return res.RowsAffected()
}
