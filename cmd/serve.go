package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fileclient/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Process upload and download tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.log.Info("serving",
				zap.String("data_dir", a.cfg.DataDir),
				zap.Duration("upload_delay", a.cfg.Upload.Delay),
				zap.Duration("download_delay", a.cfg.Download.Delay))

			err = scheduler.Run(ctx, a.log,
				scheduler.Job{Name: "upload", Delay: a.cfg.Upload.Delay, Runner: a.uploadHandler()},
				scheduler.Job{Name: "download", Delay: a.cfg.Download.Delay, Runner: a.downloadHandler()},
			)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Info("shutting down")
			return nil
		},
	}
}
