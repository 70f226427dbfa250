package download

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileclient/checksum"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/transport"
)

func randomContent(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func readBack(t *testing.T, env testEnv, id models.FileID) []byte {
	t.Helper()
	file, err := env.files.Find(context.Background(), id)
	require.NoError(t, err)
	r, err := env.files.Open(file, 0)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestDownloadInChunks(t *testing.T) {
	env := newTestEnv(t)
	content := randomContent(t, 5000)
	srv := newRangeServer(t, content)
	client := NewClient(srv.Client(), env.files, 1000, logging.NewNop())

	file := env.newDownloadFile(t, srv.URL+"/payload")
	done, err := client.Download(context.Background(), file)
	require.NoError(t, err)

	wantMD5, wantSHA, err := checksum.Compute(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, wantMD5, done.MD5)
	assert.Equal(t, wantSHA, done.SHA256)
	assert.Equal(t, "payload.bin", done.Name)
	assert.Equal(t, "application/octet-stream", done.ContentType)
	require.NotNil(t, done.Length)
	assert.Equal(t, int64(5000), *done.Length)

	assert.Equal(t, []string{
		"bytes=0-999", "bytes=1000-1999", "bytes=2000-2999", "bytes=3000-3999", "bytes=4000-4999",
	}, srv.requestedRanges())
	assert.Equal(t, content, readBack(t, env, done.ID))
}

func TestDownloadResumesFromStoredLength(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := randomContent(t, 3000)
	srv := newRangeServer(t, content)

	file := env.newDownloadFile(t, srv.URL)
	file = file.WithLength(3000)
	require.NoError(t, env.files.Update(ctx, file))
	file, err := env.files.Append(ctx, file, bytes.NewReader(content[:1200]))
	require.NoError(t, err)

	client := NewClient(srv.Client(), env.files, 10000, logging.NewNop())
	done, err := client.Download(ctx, file)
	require.NoError(t, err)
	assert.True(t, done.HasChecksums())

	assert.Equal(t, []string{"bytes=1200-2999"}, srv.requestedRanges())
	assert.Equal(t, content, readBack(t, env, done.ID))
}

func TestDownloadAfterInterruptedBody(t *testing.T) {
	env := newTestEnv(t)
	content := randomContent(t, 4000)
	var gets atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && gets.Add(1) == 1 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-3999/%d", len(content)))
			w.Header().Set("Content-Length", "4000")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(content[:1500])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.Client(), env.files, 4000, logging.NewNop())
	file := env.newDownloadFile(t, srv.URL)

	_, err := client.Download(context.Background(), file)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTransferIO))

	file, err = env.files.Find(context.Background(), file.ID)
	require.NoError(t, err)
	stored, err := env.files.StoredLength(file)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), stored)

	done, err := client.Download(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, done.HasChecksums())
	assert.Equal(t, content, readBack(t, env, done.ID))
}

func TestDownloadMissingContentLength(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.Client(), env.files, 0, logging.NewNop())
	_, err := client.Download(context.Background(), env.newDownloadFile(t, srv.URL))
	assert.True(t, errors.Is(err, ErrMissingContentLength))
	assert.False(t, Retryable(err))
}

func TestDownloadUnexpectedHeadStatus(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.Client(), env.files, 0, logging.NewNop())
	_, err := client.Download(context.Background(), env.newDownloadFile(t, srv.URL))
	assert.True(t, errors.Is(err, transport.ErrUnexpectedResponse))
	assert.False(t, Retryable(err))
}

func TestDownloadRejectsChangedLength(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	srv := newRangeServer(t, randomContent(t, 2000))

	file := env.newDownloadFile(t, srv.URL)
	file = file.WithLength(2000)
	require.NoError(t, env.files.Update(ctx, file))
	file, err := env.files.Append(ctx, file, bytes.NewReader(make([]byte, 500)))
	require.NoError(t, err)

	srv.setContent(randomContent(t, 2500))
	client := NewClient(srv.Client(), env.files, 0, logging.NewNop())
	_, err = client.Download(ctx, file)
	assert.True(t, errors.Is(err, transport.ErrRemoteInconsistency))
	assert.Empty(t, srv.requestedRanges())
}

func TestDownloadZeroLength(t *testing.T) {
	env := newTestEnv(t)
	srv := newRangeServer(t, []byte{})

	client := NewClient(srv.Client(), env.files, 0, logging.NewNop())
	done, err := client.Download(context.Background(), env.newDownloadFile(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, checksum.SHA256("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"), done.SHA256)
	assert.Empty(t, srv.requestedRanges())
}

func TestDispositionFilename(t *testing.T) {
	assert.Equal(t, "a.txt", dispositionFilename(`attachment; filename="a.txt"`))
	assert.Equal(t, "passwd", dispositionFilename(`attachment; filename="../../etc/passwd"`))
	assert.Equal(t, "", dispositionFilename("inline"))
	assert.Equal(t, "", dispositionFilename(""))
}

func TestCheckContentRange(t *testing.T) {
	assert.NoError(t, checkContentRange("bytes 100-199/1000", 100, 1000))
	assert.NoError(t, checkContentRange("bytes 100-199/*", 100, 1000))
	assert.NoError(t, checkContentRange("", 100, 1000))
	assert.Error(t, checkContentRange("bytes 0-99/1000", 100, 1000))
	assert.Error(t, checkContentRange("bytes 100-199/2000", 100, 1000))
	assert.Error(t, checkContentRange("garbage", 100, 1000))
}
