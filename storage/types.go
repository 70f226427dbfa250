package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"fileclient/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrAlreadyExists is returned when a row with the same key exists.
	ErrAlreadyExists = errors.New("storage: record already exists")
)

type scanner interface {
	Scan(dest ...any) error
}

func validateStatus(status models.Status) error {
	switch status {
	case models.StatusCreated, models.StatusSucceeded, models.StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid task status %q", status)
	}
}

// statusFilter renders an IN clause for the given statuses.
func statusFilter(statuses []models.Status) (string, []any, error) {
	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		if err := validateStatus(status); err != nil {
			return "", nil, err
		}
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	return "status IN (" + strings.Join(placeholders, ", ") + ")", args, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func checkRowsAffected(res sql.Result) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func nullTime(ptr *time.Time) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ptr.UnixMilli(), Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	v := time.UnixMilli(ni.Int64)
	return &v
}

func blob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
