// Package download fetches remote resources into local files with resumable
// ranged requests, and runs download tasks.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fileclient/logging"
	"fileclient/models"
	"fileclient/transport"
)

// DefaultChunkSize is the span requested per range request.
const DefaultChunkSize = 4 << 20

// ErrMissingContentLength is returned when the remote does not declare a length.
var ErrMissingContentLength = errors.New("download: missing content length")

// Files is the part of the file system the client writes through.
type Files interface {
	Update(ctx context.Context, file models.File) error
	StoredLength(file models.File) (int64, error)
	Append(ctx context.Context, file models.File, src io.Reader) (models.File, error)
	Complete(ctx context.Context, file models.File) (models.File, error)
}

// Client downloads with HEAD + Range GET requests.
type Client struct {
	http      *http.Client
	files     Files
	chunkSize int64
	log       *logging.Logger
}

// NewClient returns a client requesting chunkSize bytes per range.
func NewClient(httpClient *http.Client, files Files, chunkSize int64, log *logging.Logger) *Client {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Client{http: httpClient, files: files, chunkSize: chunkSize, log: log.Named("download")}
}

type remoteInfo struct {
	length      int64
	name        string
	contentType string
}

// Download resumes file from its stored length until it is complete, and
// returns the completed file.
func (c *Client) Download(ctx context.Context, file models.File) (models.File, error) {
	info, err := c.head(ctx, file.URL)
	if err != nil {
		return file, err
	}
	file, err = c.applyMetadata(ctx, file, info)
	if err != nil {
		return file, err
	}

	for {
		stored, err := c.files.StoredLength(file)
		if err != nil {
			return file, err
		}
		if stored == info.length {
			if file.HasChecksums() {
				return file, nil
			}
			return c.files.Complete(ctx, file)
		}

		file, err = c.fetchRange(ctx, file, stored, info.length)
		if err != nil {
			return file, err
		}
	}
}

func (c *Client) head(ctx context.Context, url models.URL) (remoteInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url.String(), nil)
	if err != nil {
		return remoteInfo{}, fmt.Errorf("build HEAD request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return remoteInfo{}, transport.IOError("HEAD "+url.String(), err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteInfo{}, &transport.ResponseError{Method: http.MethodHead, URL: url.String(), StatusCode: resp.StatusCode}
	}

	length := resp.ContentLength
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return remoteInfo{}, fmt.Errorf("%w: invalid value %q", ErrMissingContentLength, raw)
		}
		length = parsed
	}
	if length < 0 {
		return remoteInfo{}, fmt.Errorf("%w: %s", ErrMissingContentLength, url)
	}

	return remoteInfo{
		length:      length,
		name:        dispositionFilename(resp.Header.Get("Content-Disposition")),
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(name, "\\", "/"))
}

// applyMetadata records what the HEAD response reported. Known values are never
// overwritten, and a changed length is an inconsistency.
func (c *Client) applyMetadata(ctx context.Context, file models.File, info remoteInfo) (models.File, error) {
	if file.Length != nil {
		if *file.Length != info.length {
			return file, transport.Inconsistent("length of %s changed from %d to %d", file.URL, *file.Length, info.length)
		}
		return file, nil
	}

	updated := file.WithLength(info.length)
	if updated.Name == "" && info.name != "" {
		updated = updated.WithName(info.name)
	}
	if updated.ContentType == "" && info.contentType != "" {
		updated = updated.WithContentType(info.contentType)
	}
	if err := c.files.Update(ctx, updated); err != nil {
		return file, err
	}

	c.log.Info("remote metadata discovered",
		zap.Int64("file_id", int64(file.ID)),
		zap.Int64("length", info.length),
		zap.String("name", updated.Name),
		zap.String("content_type", updated.ContentType))
	return updated, nil
}

func (c *Client) fetchRange(ctx context.Context, file models.File, stored, length int64) (models.File, error) {
	end := min(stored+c.chunkSize, length) - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL.String(), nil)
	if err != nil {
		return file, fmt.Errorf("build GET request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", stored, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return file, transport.IOError("GET "+file.URL.String(), err)
	}
	defer resp.Body.Close()

	limit := end - stored + 1
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), stored, length); err != nil {
			return file, err
		}
	case resp.StatusCode == http.StatusOK && stored == 0:
		limit = length
	default:
		return file, &transport.ResponseError{Method: http.MethodGet, URL: file.URL.String(), StatusCode: resp.StatusCode}
	}

	updated, err := c.files.Append(ctx, file, bodyReader{io.LimitReader(resp.Body, limit)})
	if err != nil {
		return file, err
	}

	after, err := c.files.StoredLength(updated)
	if err != nil {
		return updated, err
	}
	if after == stored {
		return updated, transport.Inconsistent("range %d-%d of %s returned no content", stored, end, file.URL)
	}
	c.log.Debug("range stored",
		zap.Int64("file_id", int64(file.ID)),
		zap.Int64("stored", after),
		zap.Int64("length", length))
	return updated, nil
}

// checkContentRange validates "bytes start-end/total" against the request.
func checkContentRange(header string, start, length int64) error {
	if header == "" {
		return nil
	}
	var gotStart, gotEnd int64
	var total string
	if _, err := fmt.Sscanf(strings.Replace(header, "/", " ", 1), "bytes %d-%d %s", &gotStart, &gotEnd, &total); err != nil {
		return transport.Inconsistent("malformed Content-Range %q", header)
	}
	if gotStart != start {
		return transport.Inconsistent("Content-Range starts at %d, requested %d", gotStart, start)
	}
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n != length {
			return transport.Inconsistent("Content-Range total %q does not match length %d", total, length)
		}
	}
	return nil
}

type bodyReader struct {
	r io.Reader
}

func (b bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, transport.IOError("read response body", err)
	}
	return n, err
}
