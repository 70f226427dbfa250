// Package filesystem manages the lifecycle of locally stored files: their
// encrypted payload on disk and their metadata row.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fileclient/checksum"
	"fileclient/crypto"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/storage"
)

var (
	// ErrNotFound is returned for unknown file IDs.
	ErrNotFound = errors.New("filesystem: file not found")
	// ErrChecksumMismatch is returned when received content does not match the
	// expected SHA-256.
	ErrChecksumMismatch = errors.New("filesystem: checksum mismatch")
	// ErrAlreadyCompletedOrMissing is returned when appending to a file that
	// is already complete or whose payload no longer exists.
	ErrAlreadyCompletedOrMissing = errors.New("filesystem: file already completed or missing")
	// ErrIncomplete is returned when reading out a file that is not complete.
	ErrIncomplete = errors.New("filesystem: file is not complete")
)

// Store persists file metadata.
type Store interface {
	InsertFile(ctx context.Context, file models.File) (models.File, error)
	UpdateFile(ctx context.Context, file models.File) error
	GetFile(ctx context.Context, id models.FileID) (models.File, error)
	ListFiles(ctx context.Context) ([]models.File, error)
	DeleteFile(ctx context.Context, id models.FileID) error
}

// NewFile describes a locally sourced file.
type NewFile struct {
	Name        string
	ContentType string
	// SHA256 is the expected digest of the content, empty when unknown.
	SHA256 checksum.SHA256
}

// FileSystem stores payloads under a single directory.
type FileSystem struct {
	store     Store
	dir       string
	algorithm crypto.Algorithm
	log       *logging.Logger
	now       func() time.Time
	locks     sync.Map
}

// New creates dir if needed. New files are encrypted with algorithm.
func New(store Store, dir string, algorithm crypto.Algorithm, log *logging.Logger) (*FileSystem, error) {
	if _, err := crypto.ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create files directory %q: %w", dir, err)
	}
	return &FileSystem{
		store:     store,
		dir:       dir,
		algorithm: algorithm,
		log:       log.Named("filesystem"),
		now:       time.Now,
	}, nil
}

func (s *FileSystem) lock(id models.FileID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *FileSystem) newPayload() (string, crypto.Secret, *os.File, error) {
	secret, err := crypto.GenerateSecret(s.algorithm)
	if err != nil {
		return "", crypto.Secret{}, nil, err
	}
	path := filepath.Join(s.dir, uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", crypto.Secret{}, nil, fmt.Errorf("create payload %q: %w", path, err)
	}
	return path, secret, f, nil
}

// CreateFromSource encrypts src into a new complete file. Nothing is kept when
// the content does not match meta.SHA256.
func (s *FileSystem) CreateFromSource(ctx context.Context, meta NewFile, src io.Reader) (models.File, error) {
	path, secret, f, err := s.newPayload()
	if err != nil {
		return models.File{}, err
	}

	md5Sum, shaSum, n, err := s.encryptInto(f, secret, src)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close payload %q: %w", path, closeErr)
	}
	if err != nil {
		s.removePayload(path)
		return models.File{}, err
	}
	if !shaSum.Matches(meta.SHA256) {
		s.removePayload(path)
		return models.File{}, fmt.Errorf("%w: expected %s, computed %s", ErrChecksumMismatch, meta.SHA256, shaSum)
	}

	file, err := s.store.InsertFile(ctx, models.File{
		Path:        path,
		Name:        meta.Name,
		ContentType: meta.ContentType,
		MD5:         md5Sum,
		SHA256:      shaSum,
		Algorithm:   s.algorithm,
		Secret:      secret,
		Timestamp:   time.UnixMilli(s.now().UnixMilli()),
		Length:      &n,
	})
	if err != nil {
		s.removePayload(path)
		return models.File{}, err
	}

	s.log.Info("file created", zap.Object("file", file))
	return file, nil
}

func (s *FileSystem) encryptInto(f *os.File, secret crypto.Secret, src io.Reader) (checksum.MD5, checksum.SHA256, int64, error) {
	w, err := crypto.NewWriter(f, s.algorithm, secret, 0)
	if err != nil {
		return "", "", 0, err
	}
	digester := checksum.NewDigester()
	n, err := io.Copy(io.MultiWriter(w, digester), src)
	if err != nil {
		return "", "", 0, fmt.Errorf("read source: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", 0, err
	}
	if err := f.Sync(); err != nil {
		return "", "", 0, fmt.Errorf("sync payload: %w", err)
	}
	md5Sum, shaSum := digester.Sums()
	return md5Sum, shaSum, n, nil
}

// CreateForDownload creates an empty file bound to a remote URL. Its length
// stays unknown until the remote reports it.
func (s *FileSystem) CreateForDownload(ctx context.Context, url models.URL) (models.File, error) {
	path, secret, f, err := s.newPayload()
	if err != nil {
		return models.File{}, err
	}
	if err := f.Close(); err != nil {
		s.removePayload(path)
		return models.File{}, fmt.Errorf("close payload %q: %w", path, err)
	}

	file, err := s.store.InsertFile(ctx, models.File{
		URL:       url,
		Path:      path,
		Algorithm: s.algorithm,
		Secret:    secret,
		Timestamp: time.UnixMilli(s.now().UnixMilli()),
	})
	if err != nil {
		s.removePayload(path)
		return models.File{}, err
	}

	s.log.Info("file created", zap.Object("file", file))
	return file, nil
}

// Find returns the metadata of a file.
func (s *FileSystem) Find(ctx context.Context, id models.FileID) (models.File, error) {
	file, err := s.store.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.File{}, fmt.Errorf("file %d: %w", id, ErrNotFound)
		}
		return models.File{}, err
	}
	return file, nil
}

// List returns the metadata of every file.
func (s *FileSystem) List(ctx context.Context) ([]models.File, error) {
	return s.store.ListFiles(ctx)
}

// Update persists metadata changes such as name, content type and length.
func (s *FileSystem) Update(ctx context.Context, file models.File) error {
	if err := s.store.UpdateFile(ctx, file); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("file %d: %w", file.ID, ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *FileSystem) layout(file models.File) (crypto.Layout, int64, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return crypto.Layout{}, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return crypto.Layout{}, 0, fmt.Errorf("stat payload %q: %w", file.Path, err)
	}
	layout, err := crypto.Scan(f, info.Size(), file.Algorithm)
	if err != nil {
		return crypto.Layout{}, 0, fmt.Errorf("scan payload %q: %w", file.Path, err)
	}
	return layout, info.Size(), nil
}

// StoredLength returns the plaintext bytes held locally.
func (s *FileSystem) StoredLength(file models.File) (int64, error) {
	layout, _, err := s.layout(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("file %d: %w", file.ID, ErrAlreadyCompletedOrMissing)
		}
		return 0, err
	}
	return layout.Plaintext, nil
}

// IsCompleted reports whether the expected length is known and fully stored.
func (s *FileSystem) IsCompleted(file models.File) (bool, error) {
	if file.Length == nil {
		return false, nil
	}
	stored, err := s.StoredLength(file)
	if err != nil {
		return false, err
	}
	return stored == *file.Length, nil
}

// Append writes src after the stored bytes. When the stored length reaches
// the expected length the checksums are computed and persisted.
func (s *FileSystem) Append(ctx context.Context, file models.File, src io.Reader) (models.File, error) {
	unlock := s.lock(file.ID)
	defer unlock()

	f, err := os.OpenFile(file.Path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return file, fmt.Errorf("file %d: %w", file.ID, ErrAlreadyCompletedOrMissing)
		}
		return file, fmt.Errorf("open payload %q: %w", file.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return file, fmt.Errorf("stat payload %q: %w", file.Path, err)
	}
	layout, err := crypto.Scan(f, info.Size(), file.Algorithm)
	if err != nil {
		return file, fmt.Errorf("scan payload %q: %w", file.Path, err)
	}
	if file.Length != nil && layout.Plaintext >= *file.Length {
		return file, fmt.Errorf("file %d: %w", file.ID, ErrAlreadyCompletedOrMissing)
	}

	if info.Size() > layout.End {
		s.log.Warn("discarding torn record",
			zap.Int64("file_id", int64(file.ID)),
			zap.Int64("bytes", info.Size()-layout.End))
		if err := f.Truncate(layout.End); err != nil {
			return file, fmt.Errorf("truncate payload %q: %w", file.Path, err)
		}
	}
	if _, err := f.Seek(layout.End, io.SeekStart); err != nil {
		return file, fmt.Errorf("seek payload %q: %w", file.Path, err)
	}

	if file.Length != nil {
		src = io.LimitReader(src, *file.Length-layout.Plaintext)
	}
	w, err := crypto.NewWriter(f, file.Algorithm, file.Secret, layout.Records)
	if err != nil {
		return file, err
	}
	n, copyErr := io.Copy(w, src)
	closeErr := w.Close()
	syncErr := f.Sync()
	switch {
	case copyErr != nil:
		return file, fmt.Errorf("append to file %d: %w", file.ID, copyErr)
	case closeErr != nil:
		return file, fmt.Errorf("append to file %d: %w", file.ID, closeErr)
	case syncErr != nil:
		return file, fmt.Errorf("sync payload %q: %w", file.Path, syncErr)
	}

	if file.Length == nil || layout.Plaintext+n != *file.Length {
		return file, nil
	}
	return s.finalize(ctx, file)
}

// Complete records the checksums of a file whose stored length already
// equals its expected length. It is a no-op when they are recorded.
func (s *FileSystem) Complete(ctx context.Context, file models.File) (models.File, error) {
	unlock := s.lock(file.ID)
	defer unlock()

	if file.HasChecksums() {
		return file, nil
	}
	completed, err := s.IsCompleted(file)
	if err != nil {
		return file, err
	}
	if !completed {
		return file, fmt.Errorf("file %d: %w", file.ID, ErrIncomplete)
	}
	return s.finalize(ctx, file)
}

func (s *FileSystem) finalize(ctx context.Context, file models.File) (models.File, error) {
	r, err := s.Open(file, 0)
	if err != nil {
		return file, err
	}
	defer r.Close()

	md5Sum, shaSum, err := checksum.Compute(r)
	if err != nil {
		return file, fmt.Errorf("checksum file %d: %w", file.ID, err)
	}
	completed := file.WithChecksums(md5Sum, shaSum)
	if err := s.Update(ctx, completed); err != nil {
		return file, err
	}

	s.log.Info("file completed", zap.Object("file", completed))
	return completed, nil
}

type payloadReader struct {
	io.Reader
	f *os.File
}

func (r payloadReader) Close() error {
	return r.f.Close()
}

// Open returns the decrypted content starting at a plaintext offset.
func (s *FileSystem) Open(file models.File, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %d: %w", file.ID, ErrAlreadyCompletedOrMissing)
		}
		return nil, fmt.Errorf("open payload %q: %w", file.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat payload %q: %w", file.Path, err)
	}
	r, err := crypto.NewReader(f, info.Size(), file.Algorithm, file.Secret, offset)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read payload %q: %w", file.Path, err)
	}
	return payloadReader{Reader: r, f: f}, nil
}

// Export decrypts a completed file to dst.
func (s *FileSystem) Export(ctx context.Context, file models.File, dst string) error {
	completed, err := s.IsCompleted(file)
	if err != nil {
		return err
	}
	if !completed {
		return fmt.Errorf("file %d: %w", file.ID, ErrIncomplete)
	}

	r, err := s.Open(file, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".export-*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("export file %d: %w", file.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("move export file to %q: %w", dst, err)
	}

	s.log.Info("file exported", zap.Int64("file_id", int64(file.ID)), zap.String("destination", dst))
	return nil
}

// Delete removes the payload and the metadata row. With force a failure to
// remove the payload is logged and the row is deleted anyway.
func (s *FileSystem) Delete(ctx context.Context, file models.File, force bool) error {
	unlock := s.lock(file.ID)
	defer unlock()

	if err := os.Remove(file.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if !force {
			return fmt.Errorf("remove payload %q: %w", file.Path, err)
		}
		s.log.Warn("payload removal failed, deleting metadata anyway",
			zap.Int64("file_id", int64(file.ID)), zap.Error(err))
	}

	if err := s.store.DeleteFile(ctx, file.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("file %d: %w", file.ID, ErrNotFound)
		}
		return err
	}
	s.locks.Delete(file.ID)

	s.log.Info("file deleted", zap.Int64("file_id", int64(file.ID)))
	return nil
}

func (s *FileSystem) removePayload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("remove payload failed", zap.String("path", path), zap.Error(err))
	}
}
