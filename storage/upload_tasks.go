package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fileclient/models"
)

const uploadTaskColumns = `
	file_id,
	creation_url,
	timestamp,
	status,
	status_time,
	schedule_time,
	retries`

// InsertUploadTask stores a new upload task. A file has at most one.
func (s *Store) InsertUploadTask(ctx context.Context, task models.UploadTask) error {
	if task.FileID <= 0 {
		return errors.New("upload task file id is required")
	}
	if task.CreationURL == "" {
		return errors.New("upload task creation url is required")
	}
	if err := validateStatus(task.Status); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_tasks (`+uploadTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(task.FileID),
		task.CreationURL.String(),
		task.Timestamp.UnixMilli(),
		string(task.Status),
		task.StatusTime.UnixMilli(),
		task.ScheduleTime.UnixMilli(),
		int(task.Retries),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("insert upload task %d: %w", task.FileID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert upload task %d: %w", task.FileID, err)
	}
	return nil
}

// UpdateUploadTask persists status, schedule and retries of a task.
func (s *Store) UpdateUploadTask(ctx context.Context, task models.UploadTask) error {
	if err := validateStatus(task.Status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_tasks
		SET status = ?,
			status_time = ?,
			schedule_time = ?,
			retries = ?
		WHERE file_id = ?`,
		string(task.Status),
		task.StatusTime.UnixMilli(),
		task.ScheduleTime.UnixMilli(),
		int(task.Retries),
		int64(task.FileID),
	)
	if err != nil {
		return fmt.Errorf("update upload task %d: %w", task.FileID, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return fmt.Errorf("update upload task %d: %w", task.FileID, err)
	}
	return nil
}

// GetUploadTask fetches the upload task of a file.
func (s *Store) GetUploadTask(ctx context.Context, fileID models.FileID) (models.UploadTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+uploadTaskColumns+` FROM upload_tasks WHERE file_id = ?`,
		int64(fileID),
	)
	task, err := scanUploadTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UploadTask{}, ErrNotFound
		}
		return models.UploadTask{}, fmt.Errorf("get upload task %d: %w", fileID, err)
	}
	return task, nil
}

// NextUploadTask returns the CREATED task with the earliest schedule time not
// after now, or ErrNotFound.
func (s *Store) NextUploadTask(ctx context.Context, now time.Time) (models.UploadTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+uploadTaskColumns+`
		FROM upload_tasks
		WHERE status = ? AND schedule_time <= ?
		ORDER BY schedule_time ASC, file_id ASC
		LIMIT 1`,
		string(models.StatusCreated),
		now.UnixMilli(),
	)
	task, err := scanUploadTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UploadTask{}, ErrNotFound
		}
		return models.UploadTask{}, fmt.Errorf("get next upload task: %w", err)
	}
	return task, nil
}

// ListUploadTasks returns every task newest schedule first, or, when
// statuses are given, the matching tasks earliest schedule first.
func (s *Store) ListUploadTasks(ctx context.Context, statuses ...models.Status) ([]models.UploadTask, error) {
	query := `SELECT` + uploadTaskColumns + ` FROM upload_tasks`
	var args []any
	if len(statuses) > 0 {
		clause, filterArgs, err := statusFilter(statuses)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + clause + " ORDER BY schedule_time ASC, file_id ASC"
		args = filterArgs
	} else {
		query += " ORDER BY schedule_time DESC, file_id DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list upload tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.UploadTask, 0)
	for rows.Next() {
		task, scanErr := scanUploadTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan upload task row: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload task rows: %w", err)
	}
	return tasks, nil
}

// DeleteUploadTask removes the task of a file and reports whether it existed.
func (s *Store) DeleteUploadTask(ctx context.Context, fileID models.FileID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE file_id = ?`, int64(fileID))
	if err != nil {
		return false, fmt.Errorf("delete upload task %d: %w", fileID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for upload task %d: %w", fileID, err)
	}
	return rowsAffected > 0, nil
}

func scanUploadTask(row scanner) (models.UploadTask, error) {
	var (
		task         models.UploadTask
		fileID       int64
		creationURL  string
		timestamp    int64
		status       string
		statusTime   int64
		scheduleTime int64
		retries      int
	)
	if err := row.Scan(&fileID, &creationURL, &timestamp, &status, &statusTime, &scheduleTime, &retries); err != nil {
		return models.UploadTask{}, err
	}

	task.FileID = models.FileID(fileID)
	task.CreationURL = models.URL(creationURL)
	task.Timestamp = time.UnixMilli(timestamp)
	task.Status = models.Status(status)
	task.StatusTime = time.UnixMilli(statusTime)
	task.ScheduleTime = time.UnixMilli(scheduleTime)
	task.Retries = models.Retries(retries)
	return task, nil
}
