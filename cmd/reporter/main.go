package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/godilite/incident-reporter/internal/app"
	"github.com/godilite/incident-reporter/internal/config"
	"github.com/godilite/incident-reporter/internal/repository/models"
)

func main() {
	_ = godotenv.Load(".env")

	rootCmd := &cobra.Command{
		Use:   "reporter",
		Short: "Monthly incident reporting batch job",
		Long: `reporter ingests incident records from the operational store,
cleanses and enriches them, and publishes five monthly reporting
metrics to the reporting store in a single atomic batch.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(summaryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		monthFrom int
		monthTo   int
		timezone  string
		domain    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one reporting batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadFromEnv()
			if cmd.Flags().Changed("month-from") {
				cfg.MonthFrom = monthFrom
			}
			if cmd.Flags().Changed("month-to") {
				cfg.MonthTo = monthTo
			}
			if timezone != "" {
				cfg.Timezone = timezone
			}
			if domain != "" {
				cfg.BaseDomain = domain
			}

			logger, err := config.NewLogger(cfg)
			if err != nil {
				log.Fatalf("Failed to initialize logger: %v", err)
			}

			ctx := cmd.Context()
			application, err := app.NewApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize application", zap.Error(err))
				return err
			}
			defer application.Close()

			report, err := application.Run(ctx)
			if err != nil {
				logger.Error("Run failed, nothing published", zap.Error(err))
				return err
			}

			printRun(report.Run)
			return nil
		},
	}

	cmd.Flags().IntVar(&monthFrom, "month-from", 0, "first month of the reporting range (1-12)")
	cmd.Flags().IntVar(&monthTo, "month-to", 0, "last month of the reporting range (1-12)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "reporting timezone identifier (e.g. America/New_York)")
	cmd.Flags().StringVar(&domain, "base-domain", "", "base domain for incident links")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the last published run report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadFromEnv()
			logger := zap.NewNop()

			application, err := app.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			run, err := application.LastRunSummary(cmd.Context())
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		},
	}
}

func printRun(run models.RunReport) {
	header := color.New(color.FgCyan, color.Bold)
	warn := color.New(color.FgYellow)

	header.Printf("run %s\n", run.RunID)
	fmt.Printf("  months:      %d..%d\n", run.MonthFrom, run.MonthTo)
	fmt.Printf("  started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  finished:    %s\n", run.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  rows read:   %d\n", run.RowsRead)
	fmt.Printf("  rows joined: %d\n", run.RowsJoined)
	fmt.Printf("  attachments: %d\n", run.AttachmentRows)
	if run.RowsExcluded > 0 {
		warn.Printf("  excluded:    %d\n", run.RowsExcluded)
	}
	if run.MalformedValues > 0 {
		warn.Printf("  malformed:   %d values nulled\n", run.MalformedValues)
	}
	if run.UnresolvedRefs > 0 {
		warn.Printf("  unresolved:  %d references\n", run.UnresolvedRefs)
	}
}
