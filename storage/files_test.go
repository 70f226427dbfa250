package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileclient/checksum"
	"fileclient/crypto"
	"fileclient/models"
)

func TestInsertAndGetFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted := mustInsertFile(t, store)
	assert.NotZero(t, inserted.ID)

	got, err := store.GetFile(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, inserted.Path, got.Path)
	assert.Equal(t, crypto.AlgorithmAESGCM, got.Algorithm)
	assert.Equal(t, inserted.Secret, got.Secret)
	assert.True(t, inserted.Timestamp.Equal(got.Timestamp))
	assert.Nil(t, got.Length)
	assert.Empty(t, got.URL)
}

func TestInsertFileRejectsDuplicatePath(t *testing.T) {
	store := newTestStore(t)
	file := mustInsertFile(t, store)

	file.ID = 0
	_, err := store.InsertFile(context.Background(), file)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestInsertFileWithoutEncryption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	file, err := store.InsertFile(ctx, models.File{Path: "/plain", Algorithm: crypto.AlgorithmNone})
	require.NoError(t, err)

	got, err := store.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, got.Secret.IsZero())
}

func TestUpdateFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	file := mustInsertFile(t, store)

	updated := file.
		WithName("report.pdf").
		WithContentType("application/pdf").
		WithLength(42).
		WithURL("https://example.com/report.pdf").
		WithChecksums(
			checksum.MD5("D41D8CD98F00B204E9800998ECF8427E"),
			checksum.SHA256("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"),
		)
	require.NoError(t, store.UpdateFile(ctx, updated))

	got, err := store.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Name)
	assert.Equal(t, "application/pdf", got.ContentType)
	require.NotNil(t, got.Length)
	assert.Equal(t, int64(42), *got.Length)
	assert.Equal(t, models.URL("https://example.com/report.pdf"), got.URL)
	assert.True(t, got.HasChecksums())
}

func TestUpdateAndDeleteMissingFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpdateFile(ctx, models.File{ID: 999})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.DeleteFile(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.GetFile(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := mustInsertFile(t, store)
	second := mustInsertFile(t, store)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)

	ids := []models.FileID{files[0].ID, files[1].ID}
	assert.ElementsMatch(t, []models.FileID{first.ID, second.ID}, ids)

	require.NoError(t, store.DeleteFile(ctx, first.ID))
	files, err = store.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
