// Package upload sends local files to resumable (tus 1.0) upload endpoints
// and runs upload tasks.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fileclient/logging"
	"fileclient/models"
	"fileclient/storage"
	"fileclient/transport"
)

const (
	// DefaultChunkSize is the body size of one PATCH request.
	DefaultChunkSize = 2 << 20

	tusVersion        = "1.0.0"
	offsetContentType = "application/offset+octet-stream"
)

// ErrIncompleteSource is returned when the local file is not fully stored.
var ErrIncompleteSource = errors.New("upload: local file is not complete")

// Files is the part of the file system the client reads from.
type Files interface {
	IsCompleted(file models.File) (bool, error)
	Open(file models.File, offset int64) (io.ReadCloser, error)
}

// Sessions maps a file fingerprint to its remote upload URL.
type Sessions interface {
	GetUploadURL(ctx context.Context, fingerprint string) (models.URL, error)
	SetUploadURL(ctx context.Context, fingerprint string, url models.URL) error
	RemoveUploadURL(ctx context.Context, fingerprint string) error
	// FinalizeUpload records url on the file and removes the fingerprint in
	// one transaction.
	FinalizeUpload(ctx context.Context, fileID models.FileID, url models.URL, fingerprint string) error
}

// Client implements the tus core protocol with the creation extension.
type Client struct {
	http      *http.Client
	files     Files
	sessions  Sessions
	chunkSize int64
	log       *logging.Logger
}

// NewClient returns a tus client sending chunks of at most chunkSize bytes.
func NewClient(httpClient *http.Client, files Files, sessions Sessions, chunkSize int64, log *logging.Logger) *Client {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Client{
		http:      httpClient,
		files:     files,
		sessions:  sessions,
		chunkSize: chunkSize,
		log:       log.Named("upload"),
	}
}

// Fingerprint identifies the upload session of a file across attempts.
func Fingerprint(file models.File) string {
	return file.ID.String()
}

// Upload sends file to the endpoint at creationURL, resuming a previous
// session when one is known, and returns the remote URL of the upload.
func (c *Client) Upload(ctx context.Context, file models.File, creationURL models.URL) (models.URL, error) {
	completed, err := c.files.IsCompleted(file)
	if err != nil {
		return "", err
	}
	if !completed {
		return "", fmt.Errorf("file %d: %w", file.ID, ErrIncompleteSource)
	}
	length := *file.Length
	fingerprint := Fingerprint(file)

	sessionURL, offset, err := c.resumeOrCreate(ctx, file, creationURL, fingerprint)
	if err != nil {
		return "", err
	}

	for offset < length {
		offset, err = c.uploadChunk(ctx, file, sessionURL, offset, length)
		if err != nil {
			return "", err
		}
	}

	if err := c.sessions.FinalizeUpload(ctx, file.ID, sessionURL, fingerprint); err != nil {
		return "", fmt.Errorf("finalize upload of file %d: %w", file.ID, err)
	}
	c.log.Info("upload finished", zap.Int64("file_id", int64(file.ID)), zap.String("url", sessionURL.String()))
	return sessionURL, nil
}

func (c *Client) resumeOrCreate(ctx context.Context, file models.File, creationURL models.URL, fingerprint string) (models.URL, int64, error) {
	sessionURL, err := c.sessions.GetUploadURL(ctx, fingerprint)
	switch {
	case err == nil:
		offset, ok, err := c.resume(ctx, sessionURL, *file.Length)
		if err != nil {
			return "", 0, err
		}
		if ok {
			c.log.Debug("resuming upload",
				zap.Int64("file_id", int64(file.ID)),
				zap.String("url", sessionURL.String()),
				zap.Int64("offset", offset))
			return sessionURL, offset, nil
		}
		if err := c.sessions.RemoveUploadURL(ctx, fingerprint); err != nil {
			return "", 0, err
		}
	case !errors.Is(err, storage.ErrNotFound):
		return "", 0, err
	}

	sessionURL, err = c.create(ctx, file, creationURL)
	if err != nil {
		return "", 0, err
	}
	if err := c.sessions.SetUploadURL(ctx, fingerprint, sessionURL); err != nil {
		return "", 0, err
	}
	c.log.Info("upload session created", zap.Int64("file_id", int64(file.ID)), zap.String("url", sessionURL.String()))
	return sessionURL, 0, nil
}

// resume asks the server for the offset of an existing session. ok is false
// when the session no longer exists.
func (c *Client) resume(ctx context.Context, sessionURL models.URL, length int64) (int64, bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, sessionURL.String(), nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, transport.IOError("HEAD "+sessionURL.String(), err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		return 0, false, nil
	default:
		return 0, false, &transport.ResponseError{Method: http.MethodHead, URL: sessionURL.String(), StatusCode: resp.StatusCode}
	}

	offset, err := headerInt(resp.Header, "Upload-Offset")
	if err != nil {
		return 0, false, err
	}
	if raw := resp.Header.Get("Upload-Length"); raw != "" {
		remoteLength, err := headerInt(resp.Header, "Upload-Length")
		if err != nil {
			return 0, false, err
		}
		if remoteLength != length {
			return 0, false, transport.Inconsistent("upload length at %s is %d, expected %d", sessionURL, remoteLength, length)
		}
	}
	if offset > length {
		return 0, false, transport.Inconsistent("upload offset %d exceeds length %d at %s", offset, length, sessionURL)
	}
	return offset, true, nil
}

func (c *Client) create(ctx context.Context, file models.File, creationURL models.URL) (models.URL, error) {
	req, err := c.newRequest(ctx, http.MethodPost, creationURL.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Upload-Length", strconv.FormatInt(*file.Length, 10))
	if metadata := encodeMetadata(file); metadata != "" {
		req.Header.Set("Upload-Metadata", metadata)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transport.IOError("POST "+creationURL.String(), err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", &transport.ResponseError{Method: http.MethodPost, URL: creationURL.String(), StatusCode: resp.StatusCode}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", transport.Inconsistent("upload creation at %s returned no Location", creationURL)
	}

	base, err := url.Parse(creationURL.String())
	if err != nil {
		return "", fmt.Errorf("parse creation url: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", transport.Inconsistent("invalid Location %q", location)
	}
	return models.ParseURL(base.ResolveReference(ref).String())
}

func (c *Client) uploadChunk(ctx context.Context, file models.File, sessionURL models.URL, offset, length int64) (int64, error) {
	size := min(c.chunkSize, length-offset)

	src, err := c.files.Open(file, offset)
	if err != nil {
		return offset, err
	}
	defer src.Close()

	req, err := c.newRequest(ctx, http.MethodPatch, sessionURL.String(), io.LimitReader(src, size))
	if err != nil {
		return offset, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", offsetContentType)
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return offset, transport.IOError("PATCH "+sessionURL.String(), err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return offset, &transport.ResponseError{Method: http.MethodPatch, URL: sessionURL.String(), StatusCode: resp.StatusCode}
	}
	next, err := headerInt(resp.Header, "Upload-Offset")
	if err != nil {
		return offset, err
	}
	if next <= offset || next > length {
		return offset, transport.Inconsistent("upload offset moved from %d to %d (length %d)", offset, next, length)
	}

	c.log.Debug("chunk uploaded",
		zap.Int64("file_id", int64(file.ID)),
		zap.Int64("offset", next),
		zap.Int64("length", length))
	return next, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Tus-Resumable", tusVersion)
	return req, nil
}

func headerInt(h http.Header, name string) (int64, error) {
	raw := h.Get(name)
	if raw == "" {
		return 0, transport.Inconsistent("missing %s header", name)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, transport.Inconsistent("invalid %s header %q", name, raw)
	}
	return n, nil
}

// encodeMetadata renders the Upload-Metadata header: comma separated
// "key base64(value)" pairs.
func encodeMetadata(file models.File) string {
	var pairs []string
	if file.Name != "" {
		pairs = append(pairs, "filename "+base64.StdEncoding.EncodeToString([]byte(file.Name)))
	}
	if file.ContentType != "" {
		pairs = append(pairs, "content-type "+base64.StdEncoding.EncodeToString([]byte(file.ContentType)))
	}
	return strings.Join(pairs, ",")
}
