package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"castlebook/internal/domain"
	"castlebook/internal/models"
)

const syncTaskSelect = `SELECT id, task_type, booking_id, payload, status, retry_count, last_error,
    created_at, processed_at, next_retry_at FROM sync_queue`

func scanSyncTasks(rows *sql.Rows) ([]models.SyncTask, error) {
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var (
			t           models.SyncTask
			lastError   sql.NullString
			processedAt sql.NullTime
			nextRetryAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&lastError, &t.CreatedAt, &processedAt, &nextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		if lastError.Valid {
			t.LastError = &lastError.String
		}
		t.ProcessedAt = timePtr(processedAt)
		t.NextRetryAt = timePtr(nextRetryAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `INSERT INTO sync_queue (task_type, booking_id, payload, status, retry_count,
            last_error, created_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		ts(now),
		nullTS(task.NextRetryAt),
	)
	if err != nil {
		return classify("create sync task", fmt.Errorf("failed to create sync task: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns due tasks, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, syncTaskSelect+`
        WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, ts(time.Now()), limit)
	if err != nil {
		return nil, classify("get pending sync tasks", fmt.Errorf("failed to get pending sync tasks: %w", err))
	}
	return scanSyncTasks(rows)
}

// GetSyncTask returns one task by id.
func (db *DB) GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, syncTaskSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, classify("get sync task", fmt.Errorf("failed to get sync task: %w", err))
	}
	tasks, err := scanSyncTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("sync task %d: %w", id, domain.ErrNotFound)
	}
	return &tasks[0], nil
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	var lastError interface{}
	if errMsg != "" {
		lastError = errMsg
	}

	switch status {
	case models.SyncStatusRetry:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nullTS(nextRetryAt), id}
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nullTS(nextRetryAt), ts(time.Now()), id}
	default:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nullTS(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return classify("update sync task", fmt.Errorf("failed to update sync task status: %w", err))
	}
	return nil
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, syncTaskSelect+` WHERE status = ? ORDER BY created_at DESC`, models.SyncStatusFailed)
	if err != nil {
		return nil, classify("get failed sync tasks", fmt.Errorf("failed to get failed sync tasks: %w", err))
	}
	return scanSyncTasks(rows)
}

// RequeueFailedSyncTasks puts failed tasks back in the queue and returns how many.
func (db *DB) RequeueFailedSyncTasks(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, retry_count = 0, next_retry_at = NULL
        WHERE status = ?`, models.SyncStatusPending, models.SyncStatusFailed)
	if err != nil {
		return 0, classify("requeue sync tasks", fmt.Errorf("failed to requeue sync tasks: %w", err))
	}
	return result.RowsAffected()
}
