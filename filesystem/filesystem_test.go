package filesystem

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileclient/checksum"
	"fileclient/crypto"
	"fileclient/logging"
	"fileclient/models"
	"fileclient/storage"
)

func newTestFileSystem(t *testing.T, alg crypto.Algorithm) (*FileSystem, *storage.Store) {
	t.Helper()

	dir := t.TempDir()
	store, _, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fsys, err := New(store, filepath.Join(dir, "files"), alg, logging.NewNop())
	require.NoError(t, err)
	return fsys, store
}

func readFile(t *testing.T, fsys *FileSystem, file models.File, offset int64) []byte {
	t.Helper()
	r, err := fsys.Open(file, offset)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestCreateFromSourceEncryptsAtRest(t *testing.T) {
	for _, alg := range []crypto.Algorithm{crypto.AlgorithmAESGCM, crypto.AlgorithmChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			fsys, _ := newTestFileSystem(t, alg)
			ctx := context.Background()
			content := []byte("the quick brown fox jumps over the lazy dog")

			file, err := fsys.CreateFromSource(ctx, NewFile{Name: "fox.txt", ContentType: "text/plain"}, bytes.NewReader(content))
			require.NoError(t, err)

			wantMD5, wantSHA, err := checksum.Compute(bytes.NewReader(content))
			require.NoError(t, err)
			assert.Equal(t, wantMD5, file.MD5)
			assert.Equal(t, wantSHA, file.SHA256)
			require.NotNil(t, file.Length)
			assert.Equal(t, int64(len(content)), *file.Length)

			raw, err := os.ReadFile(file.Path)
			require.NoError(t, err)
			assert.False(t, bytes.Contains(raw, []byte("quick brown fox")))

			completed, err := fsys.IsCompleted(file)
			require.NoError(t, err)
			assert.True(t, completed)
			assert.Equal(t, content, readFile(t, fsys, file, 0))
		})
	}
}

func TestCreateFromSourceRoundTripSizes(t *testing.T) {
	sizes := []int{0, 1, crypto.RecordSize - 1, crypto.RecordSize, crypto.RecordSize + 1, 3*crypto.RecordSize + 7}
	for _, alg := range []crypto.Algorithm{crypto.AlgorithmAESGCM, crypto.AlgorithmChaCha20Poly1305} {
		for _, size := range sizes {
			t.Run(fmt.Sprintf("%s/%d", alg, size), func(t *testing.T) {
				fsys, _ := newTestFileSystem(t, alg)
				ctx := context.Background()
				content := make([]byte, size)
				_, err := rand.Read(content)
				require.NoError(t, err)

				file, err := fsys.CreateFromSource(ctx, NewFile{}, bytes.NewReader(content))
				require.NoError(t, err)

				_, wantSHA, err := checksum.Compute(bytes.NewReader(content))
				require.NoError(t, err)
				assert.Equal(t, wantSHA, file.SHA256)

				got := readFile(t, fsys, file, 0)
				assert.Equal(t, len(content), len(got))
				assert.True(t, bytes.Equal(content, got))
			})
		}
	}
}

func TestCreateFromSourceChecksumMismatchLeavesNothing(t *testing.T) {
	fsys, store := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	_, err := fsys.CreateFromSource(ctx, NewFile{SHA256: checksum.SHA256(strings.Repeat("A", 64))}, strings.NewReader("data"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	entries, err := os.ReadDir(fsys.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateFromSourceAcceptsMatchingChecksum(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmNone)
	_, sha, err := checksum.Compute(strings.NewReader("data"))
	require.NoError(t, err)

	file, err := fsys.CreateFromSource(context.Background(), NewFile{SHA256: sha}, strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, sha, file.SHA256)

	raw, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(raw))
}

func TestAppendCompletesAndFinalizesChecksums(t *testing.T) {
	fsys, store := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()
	content := make([]byte, crypto.RecordSize+500)
	_, err := rand.Read(content)
	require.NoError(t, err)

	file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
	require.NoError(t, err)
	file = file.WithLength(int64(len(content)))
	require.NoError(t, fsys.Update(ctx, file))

	file, err = fsys.Append(ctx, file, bytes.NewReader(content[:1000]))
	require.NoError(t, err)
	assert.False(t, file.HasChecksums())
	stored, err := fsys.StoredLength(file)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored)

	file, err = fsys.Append(ctx, file, bytes.NewReader(content[1000:]))
	require.NoError(t, err)
	assert.True(t, file.HasChecksums())

	wantMD5, wantSHA, err := checksum.Compute(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, wantMD5, file.MD5)
	assert.Equal(t, wantSHA, file.SHA256)

	persisted, err := store.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, wantSHA, persisted.SHA256)
	assert.Equal(t, content, readFile(t, fsys, persisted, 0))
	assert.Equal(t, content[crypto.RecordSize:], readFile(t, fsys, persisted, crypto.RecordSize))
}

func TestAppendInManyPiecesMatchesSinglePiece(t *testing.T) {
	for _, alg := range []crypto.Algorithm{crypto.AlgorithmAESGCM, crypto.AlgorithmChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			fsys, _ := newTestFileSystem(t, alg)
			ctx := context.Background()
			content := make([]byte, crypto.RecordSize+4321)
			_, err := rand.Read(content)
			require.NoError(t, err)

			whole, err := fsys.CreateFromSource(ctx, NewFile{}, bytes.NewReader(content))
			require.NoError(t, err)

			file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
			require.NoError(t, err)
			file = file.WithLength(int64(len(content)))
			require.NoError(t, fsys.Update(ctx, file))

			pieces := 0
			for offset, step := 0, 1; offset < len(content); step = step%997 + 13 {
				end := min(offset+step, len(content))
				file, err = fsys.Append(ctx, file, bytes.NewReader(content[offset:end]))
				require.NoError(t, err)
				offset = end
				pieces++
				assert.Equal(t, offset == len(content), file.HasChecksums())
			}
			require.Greater(t, pieces, 2)

			assert.Equal(t, whole.MD5, file.MD5)
			assert.Equal(t, whole.SHA256, file.SHA256)
			assert.True(t, bytes.Equal(content, readFile(t, fsys, file, 0)))
		})
	}
}

func TestAppendAfterCompletionFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmChaCha20Poly1305)
	ctx := context.Background()

	file, err := fsys.CreateFromSource(ctx, NewFile{}, strings.NewReader("done"))
	require.NoError(t, err)
	before := file

	_, err = fsys.Append(ctx, file, strings.NewReader("more"))
	assert.True(t, errors.Is(err, ErrAlreadyCompletedOrMissing))

	after, err := fsys.Find(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, before.SHA256, after.SHA256)
	assert.Equal(t, []byte("done"), readFile(t, fsys, after, 0))
}

func TestAppendToMissingPayloadFails(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
	require.NoError(t, err)
	require.NoError(t, os.Remove(file.Path))

	_, err = fsys.Append(ctx, file, strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrAlreadyCompletedOrMissing))
}

func TestAppendNeverExceedsExpectedLength(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
	require.NoError(t, err)
	file = file.WithLength(4)

	file, err = fsys.Append(ctx, file, strings.NewReader("abcdefgh"))
	require.NoError(t, err)
	assert.True(t, file.HasChecksums())
	assert.Equal(t, []byte("abcd"), readFile(t, fsys, file, 0))
}

func TestAppendDiscardsTornRecord(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
	require.NoError(t, err)
	file = file.WithLength(6)
	file, err = fsys.Append(ctx, file, strings.NewReader("abc"))
	require.NoError(t, err)

	f, err := os.OpenFile(file.Path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 40, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stored, err := fsys.StoredLength(file)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored)

	file, err = fsys.Append(ctx, file, strings.NewReader("def"))
	require.NoError(t, err)
	assert.True(t, file.HasChecksums())
	assert.Equal(t, []byte("abcdef"), readFile(t, fsys, file, 0))
}

func TestCompleteZeroLengthFile(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateForDownload(ctx, "https://example.com/empty")
	require.NoError(t, err)

	_, err = fsys.Complete(ctx, file)
	assert.True(t, errors.Is(err, ErrIncomplete))

	file, err = fsys.Complete(ctx, file.WithLength(0))
	require.NoError(t, err)
	assert.Equal(t, checksum.SHA256("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"), file.SHA256)
}

func TestDeleteRemovesPayloadAndMetadata(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateFromSource(ctx, NewFile{}, strings.NewReader("bye"))
	require.NoError(t, err)
	require.NoError(t, fsys.Delete(ctx, file, false))

	_, err = os.Stat(file.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = fsys.Find(ctx, file.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteForceToleratesPayloadFailure(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmAESGCM)
	ctx := context.Background()

	file, err := fsys.CreateForDownload(ctx, "https://example.com/blob")
	require.NoError(t, err)

	require.NoError(t, os.Remove(file.Path))
	require.NoError(t, os.Mkdir(file.Path, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(file.Path, "child"), []byte("x"), 0o600))

	err = fsys.Delete(ctx, file, false)
	require.Error(t, err)
	_, err = fsys.Find(ctx, file.ID)
	require.NoError(t, err)

	require.NoError(t, fsys.Delete(ctx, file, true))
	_, err = fsys.Find(ctx, file.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestExportWritesPlaintext(t *testing.T) {
	fsys, _ := newTestFileSystem(t, crypto.AlgorithmChaCha20Poly1305)
	ctx := context.Background()

	file, err := fsys.CreateFromSource(ctx, NewFile{}, strings.NewReader("exported"))
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, fsys.Export(ctx, file, dst))
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "exported", string(raw))

	pending, err := fsys.CreateForDownload(ctx, "https://example.com/x")
	require.NoError(t, err)
	assert.True(t, errors.Is(fsys.Export(ctx, pending, dst), ErrIncomplete))
}
