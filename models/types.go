// Package models holds the value types shared by storage, the file system
// and the transfer task machinery.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFileID    = errors.New("models: invalid file id")
	ErrInvalidURL       = errors.New("models: invalid url")
	ErrInvalidRetries   = errors.New("models: invalid retries")
	ErrInvalidStatus    = errors.New("models: invalid status")
	ErrInvalidTimeFrame = errors.New("models: invalid time frame")
)

// FileID identifies a stored file and, one-to-one, its transfer task.
type FileID int64

// ParseFileID parses a positive decimal id.
func ParseFileID(s string) (FileID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFileID, s)
	}
	return FileID(n), nil
}

func (id FileID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// URL is an absolute http or https URL.
type URL string

// ParseURL validates s.
func ParseURL(s string) (URL, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, s, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidURL, s)
	}
	return URL(u.String()), nil
}

func (u URL) String() string {
	return string(u)
}

// Retries counts failed attempts of a task.
type Retries int

// NewRetries rejects negative counts.
func NewRetries(n int) (Retries, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRetries, n)
	}
	return Retries(n), nil
}

func (r Retries) Increment() Retries {
	return r + 1
}

// Status is the lifecycle state of a transfer task.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch status := Status(strings.ToUpper(strings.TrimSpace(s))); status {
	case StatusCreated, StatusSucceeded, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Terminal reports whether no further attempts happen in this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TimeFrame is an optional validity window. Either bound may be nil.
type TimeFrame struct {
	Start *time.Time
	End   *time.Time
}

// NewTimeFrame rejects windows whose end precedes their start.
func NewTimeFrame(start, end *time.Time) (TimeFrame, error) {
	if start != nil && end != nil && end.Before(*start) {
		return TimeFrame{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidTimeFrame, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	frame := TimeFrame{}
	if start != nil {
		s := truncate(*start)
		frame.Start = &s
	}
	if end != nil {
		e := truncate(*end)
		frame.End = &e
	}
	return frame, nil
}

// Expired reports whether t lies after the window's end.
func (f TimeFrame) Expired(t time.Time) bool {
	return f.End != nil && t.After(*f.End)
}

// truncate drops precision below what storage keeps.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
