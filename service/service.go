// Package service is the entry point for creating, inspecting and removing
// transfers. Creation errors surface synchronously to the caller.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"fileclient/checksum"
	"fileclient/download"
	"fileclient/filesystem"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/upload"
)

// UploadRequest describes a local payload to send.
type UploadRequest struct {
	Name        string
	ContentType string
	// SHA256 is the expected hex digest of Source, optional.
	SHA256      string
	CreationURL string
	Source      io.Reader
}

// DownloadRequest describes a remote resource to fetch, optionally only
// within [Start, End].
type DownloadRequest struct {
	URL   string
	Start *time.Time
	End   *time.Time
}

// FileInfo is a file with its local progress.
type FileInfo struct {
	models.File
	StoredLength int64
	Completed    bool
}

// Service ties the file system to the task managers.
type Service struct {
	files     *filesystem.FileSystem
	uploads   *upload.Manager
	downloads *download.Manager
	log       *logging.Logger
}

// New returns a service over the file system and both task managers.
func New(files *filesystem.FileSystem, uploads *upload.Manager, downloads *download.Manager, log *logging.Logger) *Service {
	return &Service{files: files, uploads: uploads, downloads: downloads, log: log.Named("service")}
}

// UploadFile stores the source encrypted and schedules its upload.
func (s *Service) UploadFile(ctx context.Context, req UploadRequest) (models.UploadTask, error) {
	creationURL, err := models.ParseURL(req.CreationURL)
	if err != nil {
		return models.UploadTask{}, err
	}
	var expected checksum.SHA256
	if req.SHA256 != "" {
		if expected, err = checksum.ParseSHA256(req.SHA256); err != nil {
			return models.UploadTask{}, err
		}
	}

	file, err := s.files.CreateFromSource(ctx, filesystem.NewFile{
		Name:        req.Name,
		ContentType: req.ContentType,
		SHA256:      expected,
	}, req.Source)
	if err != nil {
		return models.UploadTask{}, err
	}

	t, err := s.uploads.CreateTask(ctx, file.ID, creationURL)
	if err != nil {
		s.discard(ctx, file)
		return models.UploadTask{}, err
	}
	return t, nil
}

// DownloadFile creates an empty file for the URL and schedules its download.
func (s *Service) DownloadFile(ctx context.Context, req DownloadRequest) (models.DownloadTask, error) {
	url, err := models.ParseURL(req.URL)
	if err != nil {
		return models.DownloadTask{}, err
	}
	window, err := models.NewTimeFrame(req.Start, req.End)
	if err != nil {
		return models.DownloadTask{}, err
	}

	file, err := s.files.CreateForDownload(ctx, url)
	if err != nil {
		return models.DownloadTask{}, err
	}

	t, err := s.downloads.CreateTask(ctx, file.ID, url, window)
	if err != nil {
		s.discard(ctx, file)
		return models.DownloadTask{}, err
	}
	return t, nil
}

func (s *Service) discard(ctx context.Context, file models.File) {
	if err := s.files.Delete(ctx, file, true); err != nil {
		s.log.Error("discard file after failed task creation", zap.Int64("file_id", int64(file.ID)), zap.Error(err))
	}
}

func (s *Service) GetUploadTask(ctx context.Context, id models.FileID) (models.UploadTask, error) {
	return s.uploads.Get(ctx, id)
}

func (s *Service) GetDownloadTask(ctx context.Context, id models.FileID) (models.DownloadTask, error) {
	return s.downloads.Get(ctx, id)
}

func (s *Service) ListUploadTasks(ctx context.Context, statuses ...models.Status) ([]models.UploadTask, error) {
	return s.uploads.List(ctx, statuses...)
}

func (s *Service) ListDownloadTasks(ctx context.Context, statuses ...models.Status) ([]models.DownloadTask, error) {
	return s.downloads.List(ctx, statuses...)
}

// DeleteUploadTask removes the task and its file. It reports false when no
// task existed.
func (s *Service) DeleteUploadTask(ctx context.Context, id models.FileID, force bool) (bool, error) {
	deleted, err := s.uploads.Delete(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, s.deleteFile(ctx, id, force)
}

// DeleteDownloadTask removes the task and its file. It reports false when no
// task existed.
func (s *Service) DeleteDownloadTask(ctx context.Context, id models.FileID, force bool) (bool, error) {
	deleted, err := s.downloads.Delete(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, s.deleteFile(ctx, id, force)
}

func (s *Service) deleteFile(ctx context.Context, id models.FileID, force bool) error {
	file, err := s.files.Find(ctx, id)
	if err != nil {
		if errors.Is(err, filesystem.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.files.Delete(ctx, file, force)
}

// GetFile returns a completed file with its decrypted content. Incomplete
// files are reported as not found.
func (s *Service) GetFile(ctx context.Context, id models.FileID) (models.File, io.ReadCloser, error) {
	info, err := s.GetFileInfo(ctx, id)
	if err != nil {
		return models.File{}, nil, err
	}
	if !info.Completed {
		return models.File{}, nil, fmt.Errorf("file %d: %w", id, filesystem.ErrNotFound)
	}
	r, err := s.files.Open(info.File, 0)
	if err != nil {
		return models.File{}, nil, err
	}
	return info.File, r, nil
}

// GetFileInfo returns a file's metadata and local progress.
func (s *Service) GetFileInfo(ctx context.Context, id models.FileID) (FileInfo, error) {
	file, err := s.files.Find(ctx, id)
	if err != nil {
		return FileInfo{}, err
	}
	return s.info(file)
}

// ListFiles returns every file with its local progress.
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	files, err := s.files.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(files))
	for _, file := range files {
		info, err := s.info(file)
		if err != nil {
			s.log.Warn("file payload unreadable", zap.Int64("file_id", int64(file.ID)), zap.Error(err))
			info = FileInfo{File: file}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Service) info(file models.File) (FileInfo, error) {
	stored, err := s.files.StoredLength(file)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		File:         file,
		StoredLength: stored,
		Completed:    file.Length != nil && stored == *file.Length,
	}, nil
}

// ExportFile decrypts a completed file to dst.
func (s *Service) ExportFile(ctx context.Context, id models.FileID, dst string) error {
	file, err := s.files.Find(ctx, id)
	if err != nil {
		return err
	}
	return s.files.Export(ctx, file, dst)
}
