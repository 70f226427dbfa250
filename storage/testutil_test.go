package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"fileclient/crypto"
	"fileclient/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir())
	require.NoError(t, err, "open test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "close test store")
	})
	return store
}

func mustInsertFile(t *testing.T, store *Store) models.File {
	t.Helper()

	secret, err := crypto.GenerateSecret(crypto.AlgorithmAESGCM)
	require.NoError(t, err)
	file, err := store.InsertFile(context.Background(), models.File{
		Path:      "/data/files/" + uuid.NewString(),
		Algorithm: crypto.AlgorithmAESGCM,
		Secret:    secret,
		Timestamp: time.UnixMilli(time.Now().UnixMilli()),
	})
	require.NoError(t, err)
	return file
}
