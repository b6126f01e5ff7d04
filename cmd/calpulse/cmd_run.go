package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"calpulse/internal/exporter"
	"calpulse/internal/infrastructure"
	"calpulse/internal/operations"
)

var runReport bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full analysis pipeline",
	Long: `Run every pipeline stage in dependency order: merge and alignment
first, then the analysis stages in parallel, finally the stages that
consume the adaptive window detail. Artifacts and the run manifest are
written to the output directory.

Examples:
  calpulse run --config calpulse.yaml
  calpulse run --out output/2023 --report`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runReport, "report", false, "Also write the Excel report workbook")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}

	metrics, err := infrastructure.NewRunMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer metrics.Shutdown(context.Background())

	state := operations.NewState(uuid.NewString(), cfg, logger, metrics)
	if err := operations.NewRunner(cfg, state).Run(ctx); err != nil {
		return err
	}

	if runReport {
		if _, err := exporter.NewReporter(cfg.Paths, logger).WriteReport(); err != nil {
			return err
		}
	}
	return nil
}
