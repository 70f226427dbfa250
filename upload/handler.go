package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"fileclient/filesystem"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/task"
	"fileclient/transport"
)

// Transfer uploads a file and returns its remote URL.
type Transfer interface {
	Upload(ctx context.Context, file models.File, creationURL models.URL) (models.URL, error)
}

// FileFinder loads the current metadata of a file.
type FileFinder interface {
	Find(ctx context.Context, id models.FileID) (models.File, error)
}

// Handler runs one attempt per tick for the earliest due upload task.
type Handler struct {
	manager  *Manager
	files    FileFinder
	transfer Transfer
	executor *task.Executor
	log      *logging.Logger
}

// NewHandler returns a handler running upload attempts for manager's tasks.
func NewHandler(manager *Manager, files FileFinder, transfer Transfer, attempt task.AttemptConfig, log *logging.Logger) *Handler {
	log = log.Named("upload")
	return &Handler{
		manager:  manager,
		files:    files,
		transfer: transfer,
		executor: task.NewExecutor(attempt, Retryable, log),
		log:      log,
	}
}

// RunOnce processes at most one due task and reports whether it found one.
func (h *Handler) RunOnce(ctx context.Context) bool {
	t, ok, err := h.manager.NextTask(ctx)
	if err != nil {
		h.log.Error("load next task failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if _, err := h.Handle(ctx, t); err != nil {
		h.log.Error("persist task state failed", zap.Int64("file_id", int64(t.FileID)), zap.Error(err))
	}
	return true
}

// Handle runs one attempt and persists the resulting task state.
func (h *Handler) Handle(ctx context.Context, t models.UploadTask) (models.UploadTask, error) {
	h.log.Info("task started", zap.Object("task", t))

	attemptErr := h.executor.Run(ctx, func(ctx context.Context) error {
		file, err := h.files.Find(ctx, t.FileID)
		if err != nil {
			return err
		}
		_, err = h.transfer.Upload(ctx, file, t.CreationURL)
		return err
	})
	if attemptErr != nil && ctx.Err() != nil {
		h.log.Info("task interrupted", zap.Object("task", t), zap.Error(attemptErr))
		return t, ctx.Err()
	}

	var (
		next models.UploadTask
		err  error
	)
	switch {
	case attemptErr == nil:
		next, err = h.manager.Succeed(ctx, t)
	case h.manager.Policy().CanRetry(t.Retries):
		next, err = h.manager.Advance(ctx, t)
	default:
		next, err = h.manager.Fail(ctx, t)
	}
	if err != nil {
		return t, fmt.Errorf("update upload task %d: %w", t.FileID, err)
	}

	fields := []zap.Field{zap.Object("before", t), zap.Object("after", next)}
	if attemptErr != nil {
		fields = append(fields, zap.Error(attemptErr))
		h.log.Warn("task attempt failed", fields...)
	} else {
		h.log.Info("task finished", fields...)
	}
	return next, nil
}

// Retryable reports whether retrying err within the same attempt can help.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, transport.ErrRemoteInconsistency),
		errors.Is(err, ErrIncompleteSource),
		errors.Is(err, filesystem.ErrAlreadyCompletedOrMissing),
		errors.Is(err, filesystem.ErrNotFound):
		return false
	}
	var respErr *transport.ResponseError
	if errors.As(err, &respErr) && respErr.ClientError() {
		return respErr.StatusCode == http.StatusRequestTimeout ||
			respErr.StatusCode == http.StatusTooManyRequests ||
			respErr.StatusCode == http.StatusConflict
	}
	return true
}
