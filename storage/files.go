package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fileclient/checksum"
	"fileclient/crypto"
	"fileclient/models"
)

const fileColumns = `
	id,
	url,
	path,
	name,
	content_type,
	md5_checksum,
	sha256_checksum,
	encryption_algorithm,
	encryption_key,
	encryption_iv,
	timestamp,
	length`

// InsertFile stores a new file row and returns it with its assigned ID.
func (s *Store) InsertFile(ctx context.Context, file models.File) (models.File, error) {
	if file.ID != 0 {
		return models.File{}, errors.New("file id is assigned by storage")
	}
	if file.Path == "" {
		return models.File{}, errors.New("file path is required")
	}
	if err := file.Secret.Validate(file.Algorithm); err != nil {
		return models.File{}, fmt.Errorf("insert file %q: %w", file.Path, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (
			url,
			path,
			name,
			content_type,
			md5_checksum,
			sha256_checksum,
			encryption_algorithm,
			encryption_key,
			encryption_iv,
			timestamp,
			length
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(file.URL.String()),
		file.Path,
		nullString(file.Name),
		nullString(file.ContentType),
		nullString(file.MD5.String()),
		nullString(file.SHA256.String()),
		string(file.Algorithm),
		blob(file.Secret.Key),
		blob(file.Secret.IV),
		file.Timestamp.UnixMilli(),
		nullInt64(file.Length),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return models.File{}, fmt.Errorf("insert file %q: %w", file.Path, ErrAlreadyExists)
		}
		return models.File{}, fmt.Errorf("insert file %q: %w", file.Path, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.File{}, fmt.Errorf("read inserted file id: %w", err)
	}
	file.ID = models.FileID(id)
	return file, nil
}

// UpdateFile overwrites the mutable columns of an existing file row.
func (s *Store) UpdateFile(ctx context.Context, file models.File) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files
		SET url = ?,
			name = ?,
			content_type = ?,
			md5_checksum = ?,
			sha256_checksum = ?,
			length = ?
		WHERE id = ?`,
		nullString(file.URL.String()),
		nullString(file.Name),
		nullString(file.ContentType),
		nullString(file.MD5.String()),
		nullString(file.SHA256.String()),
		nullInt64(file.Length),
		int64(file.ID),
	)
	if err != nil {
		return fmt.Errorf("update file %d: %w", file.ID, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return fmt.Errorf("update file %d: %w", file.ID, err)
	}
	return nil
}

// GetFile fetches one file row by ID.
func (s *Store) GetFile(ctx context.Context, id models.FileID) (models.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+fileColumns+` FROM files WHERE id = ?`, int64(id))

	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.File{}, ErrNotFound
		}
		return models.File{}, fmt.Errorf("get file %d: %w", id, err)
	}
	return file, nil
}

// ListFiles returns all file rows, newest first.
func (s *Store) ListFiles(ctx context.Context) ([]models.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+fileColumns+` FROM files ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]models.File, 0)
	for rows.Next() {
		file, scanErr := scanFile(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan file row: %w", scanErr)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return files, nil
}

// DeleteFile removes a file row. Tasks referencing it must be deleted first.
func (s *Store) DeleteFile(ctx context.Context, id models.FileID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete file %d: %w", id, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return fmt.Errorf("delete file %d: %w", id, err)
	}
	return nil
}

func scanFile(row scanner) (models.File, error) {
	var (
		file        models.File
		id          int64
		url         sql.NullString
		name        sql.NullString
		contentType sql.NullString
		md5Sum      sql.NullString
		sha256Sum   sql.NullString
		algorithm   string
		key         []byte
		iv          []byte
		timestamp   int64
		length      sql.NullInt64
	)

	if err := row.Scan(
		&id,
		&url,
		&file.Path,
		&name,
		&contentType,
		&md5Sum,
		&sha256Sum,
		&algorithm,
		&key,
		&iv,
		&timestamp,
		&length,
	); err != nil {
		return models.File{}, err
	}

	file.ID = models.FileID(id)
	file.URL = models.URL(url.String)
	file.Name = name.String
	file.ContentType = contentType.String
	file.MD5 = checksum.MD5(md5Sum.String)
	file.SHA256 = checksum.SHA256(sha256Sum.String)
	file.Algorithm = crypto.Algorithm(algorithm)
	if len(key) > 0 || len(iv) > 0 {
		file.Secret = crypto.Secret{Key: key, IV: iv}
	}
	file.Timestamp = time.UnixMilli(timestamp)
	file.Length = int64Ptr(length)
	return file, nil
}
