package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fileclient/models"
)

const downloadTaskColumns = `
	file_id,
	url,
	start_time,
	end_time,
	timestamp,
	status,
	status_time,
	schedule_time,
	retries`

// InsertDownloadTask stores a new download task. A file has at most one.
func (s *Store) InsertDownloadTask(ctx context.Context, task models.DownloadTask) error {
	if task.FileID <= 0 {
		return errors.New("download task file id is required")
	}
	if task.URL == "" {
		return errors.New("download task url is required")
	}
	if err := validateStatus(task.Status); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_tasks (`+downloadTaskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(task.FileID),
		task.URL.String(),
		nullTime(task.Window.Start),
		nullTime(task.Window.End),
		task.Timestamp.UnixMilli(),
		string(task.Status),
		task.StatusTime.UnixMilli(),
		task.ScheduleTime.UnixMilli(),
		int(task.Retries),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("insert download task %d: %w", task.FileID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert download task %d: %w", task.FileID, err)
	}
	return nil
}

// UpdateDownloadTask persists status, schedule and retries of a task.
func (s *Store) UpdateDownloadTask(ctx context.Context, task models.DownloadTask) error {
	if err := validateStatus(task.Status); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE download_tasks
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
		return fmt.Errorf("update download task %d: %w", task.FileID, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return fmt.Errorf("update download task %d: %w", task.FileID, err)
	}
	return nil
}

// GetDownloadTask fetches the download task of a file.
func (s *Store) GetDownloadTask(ctx context.Context, fileID models.FileID) (models.DownloadTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+downloadTaskColumns+` FROM download_tasks WHERE file_id = ?`,
		int64(fileID),
	)
	task, err := scanDownloadTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DownloadTask{}, ErrNotFound
		}
		return models.DownloadTask{}, fmt.Errorf("get download task %d: %w", fileID, err)
	}
	return task, nil
}

// NextDownloadTask returns the CREATED task with the earliest schedule time not
// after now, or ErrNotFound.
func (s *Store) NextDownloadTask(ctx context.Context, now time.Time) (models.DownloadTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+downloadTaskColumns+`
		FROM download_tasks
		WHERE status = ? AND schedule_time <= ?
		ORDER BY schedule_time ASC, file_id ASC
		LIMIT 1`,
		string(models.StatusCreated),
		now.UnixMilli(),
	)
	task, err := scanDownloadTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DownloadTask{}, ErrNotFound
		}
		return models.DownloadTask{}, fmt.Errorf("get next download task: %w", err)
	}
	return task, nil
}

// ListDownloadTasks returns every task newest schedule first, or, when
// statuses are given, the matching tasks earliest schedule first.
func (s *Store) ListDownloadTasks(ctx context.Context, statuses ...models.Status) ([]models.DownloadTask, error) {
	query := `SELECT` + downloadTaskColumns + ` FROM download_tasks`
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
		return nil, fmt.Errorf("list download tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.DownloadTask, 0)
	for rows.Next() {
		task, scanErr := scanDownloadTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan download task row: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download task rows: %w", err)
	}
	return tasks, nil
}

// DeleteDownloadTask removes the task of a file and reports whether it existed.
func (s *Store) DeleteDownloadTask(ctx context.Context, fileID models.FileID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_tasks WHERE file_id = ?`, int64(fileID))
	if err != nil {
		return false, fmt.Errorf("delete download task %d: %w", fileID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for download task %d: %w", fileID, err)
	}
	return rowsAffected > 0, nil
}

func scanDownloadTask(row scanner) (models.DownloadTask, error) {
	var (
		task         models.DownloadTask
		fileID       int64
		url          string
		start        sql.NullInt64
		end          sql.NullInt64
		timestamp    int64
		status       string
		statusTime   int64
		scheduleTime int64
		retries      int
	)
	if err := row.Scan(&fileID, &url, &start, &end, &timestamp, &status, &statusTime, &scheduleTime, &retries); err != nil {
		return models.DownloadTask{}, err
	}

	task.FileID = models.FileID(fileID)
	task.URL = models.URL(url)
	task.Window = models.TimeFrame{Start: timePtr(start), End: timePtr(end)}
	task.Timestamp = time.UnixMilli(timestamp)
	task.Status = models.Status(status)
	task.StatusTime = time.UnixMilli(statusTime)
	task.ScheduleTime = time.UnixMilli(scheduleTime)
	task.Retries = models.Retries(retries)
	return task, nil
}
