// Package cmd implements the fileclient command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fileclient",
		Short: "Resumable file transfer client",
		Long: `fileclient keeps encrypted local copies of files and moves them to and from
remote servers with resumable uploads and ranged downloads, retrying failed
transfers with backoff.`,
		Version:       "<unknown>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default is config.yaml in the data directory)")
	root.PersistentFlags().CountP("verbose", "v", "Verbose output (use -v for debug logs)")

	root.AddCommand(
		newServeCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newTasksCmd(),
		newDeleteCmd(),
		newFilesCmd(),
		newExportCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on error.
func Execute(version string) {
	root := NewRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
