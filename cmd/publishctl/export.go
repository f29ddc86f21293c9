package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"liguns/internal/api"
	"liguns/internal/app"
	"liguns/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Write schedule entries to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.Scheduling.List(ctx, models.ScheduleFilter{
				UserID: user,
				Status: strings.ToUpper(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			if err := api.WriteScheduleWorkbook(f, entries, a.Location); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s (%s)\n",
				len(entries), args[0], humanize.Bytes(uint64(info.Size())))
			return nil
		})
	},
}
