package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"fileclient/config"
	"fileclient/download"
	"fileclient/filesystem"
	"fileclient/logging"
	"fileclient/service"
	"fileclient/storage"
	"fileclient/transport"
	"fileclient/upload"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	store *storage.Store
	files *filesystem.FileSystem
	http  *http.Client

	uploads   *upload.Manager
	downloads *download.Manager
	svc       *service.Service
}

func openApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetCount("verbose"); verbose > 0 {
		cfg.Log.Level = "debug"
	}

	log, err := logging.New(&cfg.Log)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDataDirectories(cfg); err != nil {
		return nil, err
	}

	store, err := storage.OpenPath(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	files, err := filesystem.New(store, cfg.Files.Dir, cfg.Encryption.Algorithm, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	httpClient, err := transport.NewClient(cfg.HTTP)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	uploads := upload.NewManager(store, cfg.Upload.Retry, log)
	downloads := download.NewManager(store, cfg.Download.Retry, log)

	log.Debug("application opened")
	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		files:     files,
		http:      httpClient,
		uploads:   uploads,
		downloads: downloads,
		svc:       service.New(files, uploads, downloads, log),
	}, nil
}

func (a *app) uploadHandler() *upload.Handler {
	client := upload.NewClient(a.http, a.files, a.store, a.cfg.Upload.ChunkSize, a.log)
	return upload.NewHandler(a.uploads, a.files, client, a.cfg.Upload.Attempt, a.log)
}

func (a *app) downloadHandler() *download.Handler {
	client := download.NewClient(a.http, a.files, a.cfg.Download.ChunkSize, a.log)
	return download.NewHandler(a.downloads, a.files, client, a.cfg.Download.Attempt, a.log)
}

func (a *app) Close() error {
	// Sync fails on terminals, nothing to report.
	defer func() { _ = a.log.Sync() }()
	return a.store.Close()
}
