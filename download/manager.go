package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fileclient/logging"
	"fileclient/models"
	"fileclient/storage"
	"fileclient/task"
)

// ErrTaskNotFound is returned for unknown download tasks.
var ErrTaskNotFound = errors.New("download: task not found")

// Store persists download tasks.
type Store interface {
	InsertDownloadTask(ctx context.Context, task models.DownloadTask) error
	UpdateDownloadTask(ctx context.Context, task models.DownloadTask) error
	GetDownloadTask(ctx context.Context, fileID models.FileID) (models.DownloadTask, error)
	NextDownloadTask(ctx context.Context, now time.Time) (models.DownloadTask, error)
	ListDownloadTasks(ctx context.Context, statuses ...models.Status) ([]models.DownloadTask, error)
	DeleteDownloadTask(ctx context.Context, fileID models.FileID) (bool, error)
}

// Manager owns the state transitions of download tasks.
type Manager struct {
	store  Store
	policy task.Policy
	now    func() time.Time
	log    *logging.Logger
}

// NewManager returns a manager persisting download tasks in store.
func NewManager(store Store, policy task.Policy, log *logging.Logger) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now, log: log.Named("download")}
}

// Policy returns the retry policy tasks are advanced with.
func (m *Manager) Policy() task.Policy {
	return m.policy
}

// CreateTask schedules a download of url into the file, first due at the
// window start or now.
func (m *Manager) CreateTask(ctx context.Context, fileID models.FileID, url models.URL, window models.TimeFrame) (models.DownloadTask, error) {
	t := models.NewDownloadTask(fileID, url, window, m.now())
	if err := m.store.InsertDownloadTask(ctx, t); err != nil {
		return models.DownloadTask{}, err
	}
	m.log.Info("task created", zap.Object("task", t))
	return t, nil
}

// NextTask returns the earliest due CREATED task, if any.
func (m *Manager) NextTask(ctx context.Context) (models.DownloadTask, bool, error) {
	t, err := m.store.NextDownloadTask(ctx, m.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.DownloadTask{}, false, nil
		}
		return models.DownloadTask{}, false, err
	}
	return t, true, nil
}

// Advance schedules the next attempt. A task whose next attempt would fall
// after its window end fails instead, keeping its retries and schedule.
func (m *Manager) Advance(ctx context.Context, t models.DownloadTask) (models.DownloadTask, error) {
	retries, schedule := m.policy.Next(t.ScheduleTime, t.Retries)
	next := t.WithSchedule(retries, schedule)
	if t.Window.Expired(next.ScheduleTime) {
		next = t.WithStatus(models.StatusFailed, m.now())
	}
	if err := m.store.UpdateDownloadTask(ctx, next); err != nil {
		return t, err
	}
	return next, nil
}

// Succeed marks the task SUCCEEDED.
func (m *Manager) Succeed(ctx context.Context, t models.DownloadTask) (models.DownloadTask, error) {
	return m.setStatus(ctx, t, models.StatusSucceeded)
}

// Fail marks the task FAILED.
func (m *Manager) Fail(ctx context.Context, t models.DownloadTask) (models.DownloadTask, error) {
	return m.setStatus(ctx, t, models.StatusFailed)
}

func (m *Manager) setStatus(ctx context.Context, t models.DownloadTask, status models.Status) (models.DownloadTask, error) {
	next := t.WithStatus(status, m.now())
	if err := m.store.UpdateDownloadTask(ctx, next); err != nil {
		return t, err
	}
	return next, nil
}

// Get returns the task of a file.
func (m *Manager) Get(ctx context.Context, fileID models.FileID) (models.DownloadTask, error) {
	t, err := m.store.GetDownloadTask(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.DownloadTask{}, fmt.Errorf("file %d: %w", fileID, ErrTaskNotFound)
		}
		return models.DownloadTask{}, err
	}
	return t, nil
}

// List returns tasks, filtered by status when statuses are given.
func (m *Manager) List(ctx context.Context, statuses ...models.Status) ([]models.DownloadTask, error) {
	return m.store.ListDownloadTasks(ctx, statuses...)
}

// Delete removes the task and reports whether it existed. The file stays.
func (m *Manager) Delete(ctx context.Context, fileID models.FileID) (bool, error) {
	deleted, err := m.store.DeleteDownloadTask(ctx, fileID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.log.Info("task deleted", zap.Int64("file_id", int64(fileID)))
	}
	return deleted, nil
}
