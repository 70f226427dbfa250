package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

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

	files, err := filesystem.New(store, filepath.Join(dir, "files"), crypto.AlgorithmChaCha20Poly1305, logging.NewNop())
	require.NoError(t, err)
	return testEnv{store: store, files: files}
}

func (e testEnv) newLocalFile(t *testing.T, content []byte) models.File {
	t.Helper()
	file, err := e.files.CreateFromSource(context.Background(), filesystem.NewFile{
		Name:        "report.csv",
		ContentType: "text/csv",
	}, bytes.NewReader(content))
	require.NoError(t, err)
	return file
}

type tusUpload struct {
	length   int64
	data     []byte
	metadata string
}

// tusServer is an in-memory tus 1.0 endpoint mounted at /files.
type tusServer struct {
	*httptest.Server

	mu        sync.Mutex
	uploads   map[string]*tusUpload
	nextID    int
	creations int
	patches   int
	// failPatch makes the n-th PATCH request answer 500.
	failPatch int
}

func newTusServer(t *testing.T) *tusServer {
	t.Helper()

	s := &tusServer{uploads: make(map[string]*tusUpload)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *tusServer) creationURL() models.URL {
	return models.URL(s.URL + "/files")
}

func (s *tusServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("Tus-Resumable") != tusVersion {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if r.URL.Path == "/files" && r.Method == http.MethodPost {
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.nextID++
		s.creations++
		id := strconv.Itoa(s.nextID)
		s.uploads[id] = &tusUpload{length: length, metadata: r.Header.Get("Upload-Metadata")}
		w.Header().Set("Location", "/files/"+id)
		w.WriteHeader(http.StatusCreated)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/files/")
	upload, ok := s.uploads[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodHead:
		w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.data)))
		w.Header().Set("Upload-Length", strconv.FormatInt(upload.length, 10))
		w.WriteHeader(http.StatusOK)
	case http.MethodPatch:
		s.patches++
		if s.failPatch > 0 && s.patches == s.failPatch {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("Content-Type") != offsetContentType {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		offset, err := strconv.Atoi(r.Header.Get("Upload-Offset"))
		if err != nil || offset != len(upload.data) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		upload.data = append(upload.data, body...)
		w.Header().Set("Upload-Offset", strconv.Itoa(len(upload.data)))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *tusServer) upload(id string) *tusUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}

func (s *tusServer) counts() (creations, patches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creations, s.patches
}
