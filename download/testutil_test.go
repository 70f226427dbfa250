package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fileclient/crypto"
	"fileclient/filesystem"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/storage"
)

type testEnv struct {
	store *storage.Store
	files *filesystem.FileSystem
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dir := t.TempDir()
	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := filesystem.New(store, filepath.Join(dir, "files"), crypto.AlgorithmAESGCM, logging.NewNop())
	require.NoError(t, err)
	return testEnv{store: store, files: files}
}

func (e testEnv) newDownloadFile(t *testing.T, url string) models.File {
	t.Helper()
	file, err := e.files.CreateForDownload(context.Background(), models.URL(url))
	require.NoError(t, err)
	return file
}

// rangeServer serves content with HEAD and Range support and records the
// Range headers it receives.
type rangeServer struct {
	*httptest.Server

	mu      sync.Mutex
	content []byte
	ranges  []string
}

func newRangeServer(t *testing.T, content []byte) *rangeServer {
	t.Helper()

	s := &rangeServer{content: content}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if r.Method == http.MethodGet {
			s.ranges = append(s.ranges, r.Header.Get("Range"))
		}
		body := s.content
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="payload.bin"`)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *rangeServer) setContent(content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
}

func (s *rangeServer) requestedRanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}
