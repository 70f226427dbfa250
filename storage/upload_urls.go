package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fileclient/models"
)

// GetUploadURL returns the remote session URL stored for a fingerprint.
func (s *Store) GetUploadURL(ctx context.Context, fingerprint string) (models.URL, error) {
	var url string
	err := s.db.QueryRowContext(ctx,
		`SELECT url FROM upload_urls WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get upload url %q: %w", fingerprint, err)
	}
	return models.URL(url), nil
}

// SetUploadURL inserts or replaces the session URL of a fingerprint.
func (s *Store) SetUploadURL(ctx context.Context, fingerprint string, url models.URL) error {
	if fingerprint == "" {
		return errors.New("upload fingerprint is required")
	}
	if url == "" {
		return errors.New("upload url is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_urls (fingerprint, url, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			url = excluded.url,
			updated_at = excluded.updated_at`,
		fingerprint,
		url.String(),
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set upload url %q: %w", fingerprint, err)
	}
	return nil
}

// RemoveUploadURL forgets a fingerprint. Missing rows are not an error.
func (s *Store) RemoveUploadURL(ctx context.Context, fingerprint string) error {
	return removeUploadURL(ctx, s.db, fingerprint)
}

// FinalizeUpload records the remote URL on the file and forgets the session
// mapping in one transaction.
func (s *Store) FinalizeUpload(ctx context.Context, fileID models.FileID, url models.URL, fingerprint string) error {
	return s.withTx(ctx, func(tx execer) error {
		res, err := tx.ExecContext(ctx, `UPDATE files SET url = ? WHERE id = ?`, url.String(), int64(fileID))
		if err != nil {
			return fmt.Errorf("set url of file %d: %w", fileID, err)
		}
		if err := checkRowsAffected(res); err != nil {
			return fmt.Errorf("set url of file %d: %w", fileID, err)
		}
		return removeUploadURL(ctx, tx, fingerprint)
	})
}

func removeUploadURL(ctx context.Context, db execer, fingerprint string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM upload_urls WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("remove upload url %q: %w", fingerprint, err)
	}
	return nil
}
