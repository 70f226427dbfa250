package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"fileclient/service"
)

func newUploadCmd() *cobra.Command {
	var (
		creationURL string
		sha256      string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Store a local file and schedule its upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			name := filepath.Base(args[0])
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(name))
			}

			t, err := a.svc.UploadFile(cmd.Context(), service.UploadRequest{
				Name:        name,
				ContentType: contentType,
				SHA256:      sha256,
				CreationURL: creationURL,
				Source:      src,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upload task %d created for %s\n", t.FileID, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&creationURL, "url", "", "upload creation endpoint")
	cmd.Flags().StringVar(&sha256, "sha256", "", "expected hex SHA-256 of the file")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default guessed from the extension)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Schedule a download, optionally within a time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, err := parseTimeFlag("start", start)
			if err != nil {
				return err
			}
			endTime, err := parseTimeFlag("end", end)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.svc.DownloadFile(cmd.Context(), service.DownloadRequest{
				URL:   args[0],
				Start: startTime,
				End:   endTime,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "download task %d created, first attempt at %s\n",
				t.FileID, t.ScheduleTime.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC 3339)")
	return cmd
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
