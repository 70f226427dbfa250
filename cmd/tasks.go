package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fileclient/models"
)

const timeLayout = time.RFC3339

func parseStatuses(values []string) ([]models.Status, error) {
	statuses := make([]models.Status, 0, len(values))
	for _, v := range values {
		status, err := models.ParseStatus(v)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func newTasksCmd() *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List transfer tasks",
	}
	cmd.PersistentFlags().StringSliceVar(&statuses, "status", nil, "only tasks in these statuses (CREATED, SUCCEEDED, FAILED)")

	cmd.AddCommand(&cobra.Command{
		Use:   "upload",
		Short: "List upload tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.svc.ListUploadTasks(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSTATUS\tRETRIES\tSCHEDULED\tURL")
			for _, t := range tasks {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", t.FileID, t.Status, t.Retries, t.ScheduleTime.Format(timeLayout), t.CreationURL)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "download",
		Short: "List download tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.svc.ListDownloadTasks(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSTATUS\tRETRIES\tSCHEDULED\tWINDOW END\tURL")
			for _, t := range tasks {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", t.FileID, t.Status, t.Retries,
					t.ScheduleTime.Format(timeLayout), formatOptional(t.Window.End), t.URL)
			}
			return w.Flush()
		},
	})

	return cmd
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}

func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task together with its file",
	}
	cmd.PersistentFlags().BoolVar(&force, "force", false, "drop metadata even if the payload cannot be removed")

	for _, kind := range []string{"upload", "download"} {
		cmd.AddCommand(&cobra.Command{
			Use:   kind + " <file-id>",
			Short: "Delete a " + kind + " task",
			Args:  cobra.ExactArgs(1),
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

				var deleted bool
				if kind == "upload" {
					deleted, err = a.svc.DeleteUploadTask(cmd.Context(), id, force)
				} else {
					deleted, err = a.svc.DeleteDownloadTask(cmd.Context(), id, force)
				}
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("no %s task for file %d", kind, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s task %d deleted\n", kind, id)
				return nil
			},
		})
	}
	return cmd
}
