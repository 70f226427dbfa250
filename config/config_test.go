package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileclient/crypto"
	"fileclient/download"
)

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "fileclient.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dataDir, "files"), cfg.Files.Dir)
	assert.Equal(t, crypto.AlgorithmAESGCM, cfg.Encryption.Algorithm)
	assert.Equal(t, int64(download.DefaultChunkSize), cfg.Download.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Upload.Delay)
	assert.Equal(t, 5, cfg.Upload.Retry.MaxRetries)
	assert.Equal(t, []string{"TLSv1.2", "TLSv1.3"}, cfg.HTTP.Protocols)
	assert.True(t, cfg.HTTP.VerifyHostnames)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, EnsureDataDirectories(cfg))
	info, err := os.Stat(cfg.Files.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "fileclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
encryption:
  algorithm: chacha20_poly1305
upload:
  delay: 2s
  retry:
    max_retries: 7
download:
  retry:
    max_retries: 4
http:
  timeout: 30s
  verify_hostnames: false
`), 0o600))

	t.Setenv("FILECLIENT_UPLOAD_RETRY_MAX_RETRIES", "9")
	t.Setenv("FILECLIENT_DOWNLOAD_CHUNK_SIZE", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, crypto.AlgorithmChaCha20Poly1305, cfg.Encryption.Algorithm)
	assert.Equal(t, 2*time.Second, cfg.Upload.Delay)
	assert.Equal(t, 9, cfg.Upload.Retry.MaxRetries)
	assert.Equal(t, 4, cfg.Download.Retry.MaxRetries)
	assert.Equal(t, int64(1024), cfg.Download.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.False(t, cfg.HTTP.VerifyHostnames)
}

func TestLoadFromDotEnv(t *testing.T) {
	dataDir := t.TempDir()
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, ".env"),
		[]byte("FILECLIENT_DATA_DIR="+dataDir+"\nFILECLIENT_LOG_LEVEL=debug\n"), 0o600))
	t.Chdir(workDir)
	t.Setenv(DataDirEnv, "")
	t.Setenv("FILECLIENT_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv(DataDirEnv))
	require.NoError(t, os.Unsetenv("FILECLIENT_LOG_LEVEL"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv(DataDirEnv, t.TempDir())
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "algorithm", key: "FILECLIENT_ENCRYPTION_ALGORITHM", val: "rot13"},
		{name: "delay", key: "FILECLIENT_DOWNLOAD_DELAY", val: "0s"},
		{name: "chunk size", key: "FILECLIENT_UPLOAD_CHUNK_SIZE", val: "-1"},
		{name: "retry interval", key: "FILECLIENT_UPLOAD_RETRY_INTERVAL", val: "0s"},
		{name: "log level", key: "FILECLIENT_LOG_LEVEL", val: "loud"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(DataDirEnv, t.TempDir())
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
