package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"liguns/internal/app"
	"liguns/internal/config"
	"liguns/internal/logging"
	"liguns/internal/service"
	"liguns/internal/spintax"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "publishctl",
	Short:         "Operator tool for the social post publisher",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "path to config.yaml")

	previewCmd.Flags().IntP("count", "n", 5, "number of variations (1-20)")
	exportCmd.Flags().String("status", "", "only export entries with this status")
	exportCmd.Flags().String("user", "", "only export entries of this user")
	exportCmd.Flags().Int("limit", 0, "maximum rows (0 exports everything)")

	rootCmd.AddCommand(runOnceCmd, publishNowCmd, previewCmd, exportCmd)
}

var previewCmd = &cobra.Command{
	Use:   "preview <template>",
	Short: "Print sample expansions of a caption template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		svc := service.NewCaptionService(spintax.New(nil), nil, nil, nil)
		p, err := svc.Preview(args[0], n)
		if err != nil {
			return err
		}
		return printPreview(cmd.OutOrStdout(), p)
	},
}

func printPreview(w io.Writer, p *service.Preview) error {
	if !p.HasVariations {
		_, err := fmt.Fprintln(w, "(no variation groups)")
		return err
	}
	for i, v := range p.Variations {
		if _, err := fmt.Fprintf(w, "%2d. %s\n", i+1, v); err != nil {
			return err
		}
	}
	return nil
}

// withApp loads configuration and the wired stack for one command. CLI logs
// go to stderr so command output stays clean.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg, logging.NewCLI(cfg.Logging, cfg.App, "publishctl"))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}
