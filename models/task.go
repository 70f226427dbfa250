package models

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// UploadTask sends a local file to a resumable upload endpoint.
type UploadTask struct {
	FileID       FileID
	CreationURL  URL
	Timestamp    time.Time
	Status       Status
	StatusTime   time.Time
	ScheduleTime time.Time
	Retries      Retries
}

// NewUploadTask returns a CREATED task due immediately.
func NewUploadTask(fileID FileID, creationURL URL, now time.Time) UploadTask {
	now = truncate(now)
	return UploadTask{
		FileID:       fileID,
		CreationURL:  creationURL,
		Timestamp:    now,
		Status:       StatusCreated,
		StatusTime:   now,
		ScheduleTime: now,
	}
}

// WithStatus moves the task to status at the given time.
func (t UploadTask) WithStatus(status Status, at time.Time) UploadTask {
	t.Status = status
	t.StatusTime = truncate(at)
	return t
}

// WithSchedule sets the retry count and next due time.
func (t UploadTask) WithSchedule(retries Retries, at time.Time) UploadTask {
	t.Retries = retries
	t.ScheduleTime = truncate(at)
	return t
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (t UploadTask) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("file_id", int64(t.FileID))
	enc.AddString("creation_url", t.CreationURL.String())
	enc.AddString("status", string(t.Status))
	enc.AddTime("status_time", t.StatusTime)
	enc.AddTime("schedule_time", t.ScheduleTime)
	enc.AddInt("retries", int(t.Retries))
	return nil
}

// DownloadTask fetches a remote resource into a local file, optionally only
// within a validity window.
type DownloadTask struct {
	FileID       FileID
	URL          URL
	Window       TimeFrame
	Timestamp    time.Time
	Status       Status
	StatusTime   time.Time
	ScheduleTime time.Time
	Retries      Retries
}

// NewDownloadTask returns a CREATED task first due at the window start, or
// now when the window has no start.
func NewDownloadTask(fileID FileID, url URL, window TimeFrame, now time.Time) DownloadTask {
	now = truncate(now)
	schedule := now
	if window.Start != nil {
		schedule = *window.Start
	}
	return DownloadTask{
		FileID:       fileID,
		URL:          url,
		Window:       window,
		Timestamp:    now,
		Status:       StatusCreated,
		StatusTime:   now,
		ScheduleTime: schedule,
	}
}

// WithStatus returns a copy of t with its status set at at.
func (t DownloadTask) WithStatus(status Status, at time.Time) DownloadTask {
	t.Status = status
	t.StatusTime = truncate(at)
	return t
}

// WithSchedule returns a copy of t with new retries and schedule time.
func (t DownloadTask) WithSchedule(retries Retries, at time.Time) DownloadTask {
	t.Retries = retries
	t.ScheduleTime = truncate(at)
	return t
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (t DownloadTask) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("file_id", int64(t.FileID))
	enc.AddString("url", t.URL.String())
	if t.Window.Start != nil {
		enc.AddTime("start", *t.Window.Start)
	}
	if t.Window.End != nil {
		enc.AddTime("end", *t.Window.End)
	}
	enc.AddString("status", string(t.Status))
	enc.AddTime("status_time", t.StatusTime)
	enc.AddTime("schedule_time", t.ScheduleTime)
	enc.AddInt("retries", int(t.Retries))
	return nil
}
