package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"liguns/internal/app"
	"liguns/internal/models"
	"liguns/internal/worker"

	"github.com/spf13/cobra"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run one publish batch and print its summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			summary, err := a.Job.Run(worker.WithTrigger(ctx, "cli"))
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary)
		})
	},
}

var publishNowCmd = &cobra.Command{
	Use:   "publish-now <schedule-id>",
	Short: "Publish one queued entry immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Job.PublishNow(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("publish failed: %s", res.Error)
			}
			return nil
		})
	},
}

func printSummary(w io.Writer, s *models.JobSummary) error {
	if s.Message != "" {
		fmt.Fprintln(w, s.Message)
	}
	fmt.Fprintf(w, "processed=%d success=%d failed=%d retrying=%d recycled=%d time=%dms\n",
		s.Processed, s.Success, s.Failed, s.Retrying, s.Recycled, s.ExecutionTimeMS)
	if len(s.Details) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULE\tPLATFORM\tSTATUS\tPOST\tERROR")
	for _, d := range s.Details {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ScheduleID, d.Platform, d.Status, d.PostID, d.Error)
	}
	return tw.Flush()
}
