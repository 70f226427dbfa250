package upload

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

// ErrTaskNotFound is returned for unknown upload tasks.
var ErrTaskNotFound = errors.New("upload: task not found")

// Store persists upload tasks.
type Store interface {
	InsertUploadTask(ctx context.Context, task models.UploadTask) error
	UpdateUploadTask(ctx context.Context, task models.UploadTask) error
	GetUploadTask(ctx context.Context, fileID models.FileID) (models.UploadTask, error)
	NextUploadTask(ctx context.Context, now time.Time) (models.UploadTask, error)
	ListUploadTasks(ctx context.Context, statuses ...models.Status) ([]models.UploadTask, error)
	DeleteUploadTask(ctx context.Context, fileID models.FileID) (bool, error)
}

// Manager owns the state transitions of upload tasks.
type Manager struct {
	store  Store
	policy task.Policy
	now    func() time.Time
	log    *logging.Logger
}

// NewManager returns a manager persisting upload tasks in store.
func NewManager(store Store, policy task.Policy, log *logging.Logger) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now, log: log.Named("upload")}
}

// Policy returns the retry policy applied on failure.
func (m *Manager) Policy() task.Policy {
	return m.policy
}

// CreateTask schedules an upload of the file to creationURL, due now.
func (m *Manager) CreateTask(ctx context.Context, fileID models.FileID, creationURL models.URL) (models.UploadTask, error) {
	t := models.NewUploadTask(fileID, creationURL, m.now())
	if err := m.store.InsertUploadTask(ctx, t); err != nil {
		return models.UploadTask{}, err
	}
	m.log.Info("task created", zap.Object("task", t))
	return t, nil
}

// NextTask returns the earliest due CREATED task, if any.
func (m *Manager) NextTask(ctx context.Context) (models.UploadTask, bool, error) {
	t, err := m.store.NextUploadTask(ctx, m.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.UploadTask{}, false, nil
		}
		return models.UploadTask{}, false, err
	}
	return t, true, nil
}

// Advance increments the retries and schedules the next attempt.
func (m *Manager) Advance(ctx context.Context, t models.UploadTask) (models.UploadTask, error) {
	next := t.WithSchedule(m.policy.Next(t.ScheduleTime, t.Retries))
	if err := m.store.UpdateUploadTask(ctx, next); err != nil {
		return t, err
	}
	return next, nil
}

// Succeed marks t SUCCEEDED.
func (m *Manager) Succeed(ctx context.Context, t models.UploadTask) (models.UploadTask, error) {
	return m.setStatus(ctx, t, models.StatusSucceeded)
}

// Fail marks t FAILED.
func (m *Manager) Fail(ctx context.Context, t models.UploadTask) (models.UploadTask, error) {
	return m.setStatus(ctx, t, models.StatusFailed)
}

func (m *Manager) setStatus(ctx context.Context, t models.UploadTask, status models.Status) (models.UploadTask, error) {
	next := t.WithStatus(status, m.now())
	if err := m.store.UpdateUploadTask(ctx, next); err != nil {
		return t, err
	}
	return next, nil
}

// Get loads the upload task for fileID.
func (m *Manager) Get(ctx context.Context, fileID models.FileID) (models.UploadTask, error) {
	t, err := m.store.GetUploadTask(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.UploadTask{}, fmt.Errorf("file %d: %w", fileID, ErrTaskNotFound)
		}
		return models.UploadTask{}, err
	}
	return t, nil
}

// List returns upload tasks, filtered to statuses when any are given.
func (m *Manager) List(ctx context.Context, statuses ...models.Status) ([]models.UploadTask, error) {
	return m.store.ListUploadTasks(ctx, statuses...)
}

// Delete removes the task and reports whether it existed. The file stays.
func (m *Manager) Delete(ctx context.Context, fileID models.FileID) (bool, error) {
	deleted, err := m.store.DeleteUploadTask(ctx, fileID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.log.Info("task deleted", zap.Int64("file_id", int64(fileID)))
	}
	return deleted, nil
}
