package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fileclient/crypto"
	"fileclient/download"
	"fileclient/logging"
	"fileclient/storage"
	"fileclient/task"
	"fileclient/transport"
	"fileclient/upload"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "fileclient"
	// EnvPrefix prefixes every environment override, e.g. FILECLIENT_UPLOAD_DELAY.
	EnvPrefix = "FILECLIENT"
	// DataDirEnv overrides the data directory.
	DataDirEnv = EnvPrefix + "_DATA_DIR"
	// configFileName is the config file looked up in the data directory.
	configFileName = "config"
	filesDirName   = "files"
)

// Config is the complete runtime configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Files      FilesConfig      `mapstructure:"files"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	HTTP       transport.Config `mapstructure:"http"`
	Upload     TransferConfig   `mapstructure:"upload"`
	Download   TransferConfig   `mapstructure:"download"`
	Log        logging.Config   `mapstructure:"log"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path defaults to fileclient.db in the data directory.
	Path string `mapstructure:"path"`
}

// FilesConfig locates encrypted payloads.
type FilesConfig struct {
	// Dir holds encrypted payloads, defaulting to <data_dir>/files.
	Dir string `mapstructure:"dir"`
}

// EncryptionConfig selects the cipher for payloads at rest.
type EncryptionConfig struct {
	Algorithm crypto.Algorithm `mapstructure:"algorithm"`
}

// TransferConfig tunes one task kind.
type TransferConfig struct {
	// Delay separates the end of one tick from the start of the next.
	Delay     time.Duration      `mapstructure:"delay"`
	ChunkSize int64              `mapstructure:"chunk_size"`
	Retry     task.Policy        `mapstructure:"retry"`
	Attempt   task.AttemptConfig `mapstructure:"attempt"`
}

func (c TransferConfig) validate(kind string) error {
	if c.Delay <= 0 {
		return fmt.Errorf("%s.delay must be > 0", kind)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%s.chunk_size must be > 0", kind)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if err := c.Attempt.Validate(); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

// Validate checks durations, sizes and names.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := crypto.ParseAlgorithm(string(c.Encryption.Algorithm)); err != nil {
		return fmt.Errorf("encryption.algorithm: %w", err)
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("http.timeout must be >= 0")
	}
	if err := c.Upload.validate("upload"); err != nil {
		return err
	}
	if err := c.Download.validate("download"); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If FILECLIENT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// EnsureDataDirectories creates the data directory layout if needed.
func EnsureDataDirectories(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.Files.Dir,
		filepath.Dir(cfg.Database.Path),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("database.path", "")
	v.SetDefault("files.dir", "")
	v.SetDefault("encryption.algorithm", string(crypto.AlgorithmAESGCM))

	http := transport.DefaultConfig()
	v.SetDefault("http.timeout", http.Timeout)
	v.SetDefault("http.protocols", http.Protocols)
	v.SetDefault("http.cipher_suites", http.CipherSuites)
	v.SetDefault("http.verify_hostnames", http.VerifyHostnames)
	for _, store := range []string{"keystore", "truststore"} {
		v.SetDefault("http."+store+".type", "")
		v.SetDefault("http."+store+".path", "")
		v.SetDefault("http."+store+".password", "")
	}
	v.SetDefault("http.keystore.key_path", "")

	setTransferDefaults(v, "upload", upload.DefaultChunkSize)
	setTransferDefaults(v, "download", download.DefaultChunkSize)

	log := logging.DefaultConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
	v.SetDefault("log.output", log.Output)
	v.SetDefault("log.file.filename", log.File.Filename)
	v.SetDefault("log.file.maxsize", log.File.MaxSize)
	v.SetDefault("log.file.maxage", log.File.MaxAge)
	v.SetDefault("log.file.maxbackups", log.File.MaxBackups)
	v.SetDefault("log.file.compress", log.File.Compress)
	v.SetDefault("log.enable_stacktrace", log.EnableStacktrace)
}

func setTransferDefaults(v *viper.Viper, kind string, chunkSize int64) {
	policy := task.DefaultPolicy()
	attempt := task.DefaultAttemptConfig()

	v.SetDefault(kind+".delay", 10*time.Second)
	v.SetDefault(kind+".chunk_size", chunkSize)
	v.SetDefault(kind+".retry.max_retries", policy.MaxRetries)
	v.SetDefault(kind+".retry.interval", policy.Interval)
	v.SetDefault(kind+".retry.max_multiplier", policy.MaxMultiplier)
	v.SetDefault(kind+".attempt.retries", attempt.Retries)
	v.SetDefault(kind+".attempt.delay", attempt.Delay)
	v.SetDefault(kind+".attempt.max_delay", attempt.MaxDelay)
}

// Load builds the configuration from defaults, an optional config file and
// FILECLIENT_* environment variables, in increasing precedence. A .env file
// in the working directory is loaded into the environment first.
//
// When path is empty, config.{yaml,json,toml} is looked up in the data
// directory and its absence is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, dataDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Encryption.Algorithm, _ = crypto.ParseAlgorithm(string(cfg.Encryption.Algorithm))

	return &cfg, nil
}

func (c *Config) resolvePaths() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, storage.DefaultDBFileName)
	}
	if c.Files.Dir == "" {
		c.Files.Dir = filepath.Join(c.DataDir, filesDirName)
	}
}
