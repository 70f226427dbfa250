package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fileclient/models"
)

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List stored files and their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.svc.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTORED\tLENGTH\tCOMPLETE\tSHA256")
			for _, info := range infos {
				length := "-"
				if info.Length != nil {
					length = fmt.Sprint(*info.Length)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\t%s\n", info.ID, info.Name, info.StoredLength, length, info.Completed, info.SHA256)
			}
			return w.Flush()
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file-id> <dest>",
		Short: "Decrypt a completed file to a local path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseFileID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.ExportFile(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d exported to %s\n", id, args[1])
			return nil
		},
	}
}
