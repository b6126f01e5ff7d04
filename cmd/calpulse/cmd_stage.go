package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"calpulse/internal/alignment"
	"calpulse/internal/config"
	"calpulse/internal/errors"
	"calpulse/internal/infrastructure"
	"calpulse/internal/operations"
)

// stageCommands registers one subcommand per pipeline stage. Stages
// after alignment read aligned_events.csv from the output directory,
// so a merge and align (or a full run) must have happened first.
var stageCommands = []struct {
	use     string
	short   string
	factory func() operations.Stage
}{
	{operations.StageMerge, "Merge minute bars with the economic calendar", func() operations.Stage { return operations.NewMergeStage() }},
	{operations.StageAlign, "Align each release with its surrounding returns", func() operations.Stage { return operations.NewAlignStage() }},
	{operations.StageDeepDive, "Derive thresholds and review flags", func() operations.Stage { return operations.NewDeepDiveStage() }},
	{operations.StageDecompose, "Split component vs headline reactions", func() operations.Stage { return operations.NewDecomposeStage() }},
	{operations.StagePathDep, "Analyze surprise streaks", func() operations.Stage { return operations.NewPathDepStage() }},
	{operations.StagePreheat, "Flag abnormal pre-release behavior", func() operations.Stage { return operations.NewPreheatStage() }},
	{operations.StagePrototype, "Cluster reaction shapes", func() operations.Stage { return operations.NewPrototypeStage() }},
	{operations.StageTrend, "Canonicalize indicators and build monthly trends", func() operations.Stage { return operations.NewTrendStage() }},
	{operations.StageAdaptive, "Derive dominant windows and recommendations", func() operations.Stage { return operations.NewAdaptiveStage() }},
	{operations.StagePriority, "Score and rank simultaneous releases", func() operations.Stage { return operations.NewPriorityStage() }},
	{operations.StageUncertainty, "Build intervals and the calibration table", func() operations.Stage { return operations.NewUncertaintyStage() }},
}

func init() {
	for _, sc := range stageCommands {
		sc := sc
		rootCmd.AddCommand(&cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSingleStage(sc.factory())
			},
		})
	}
}

func runSingleStage(stage operations.Stage) error {
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
	runner := operations.NewRunner(cfg, state)
	if err := cfg.Paths.EnsureOutputDir(); err != nil {
		return errors.NewIO("cli", "create output directory", err)
	}

	if err := prepareState(ctx, runner, stage); err != nil {
		return err
	}
	if err := runner.RunStage(ctx, stage); err != nil {
		return fmt.Errorf("stage %s: %w", stage.ID(), err)
	}
	return nil
}

// prepareState loads the inputs a standalone stage needs from earlier
// artifacts instead of re-running the whole pipeline.
func prepareState(ctx context.Context, runner *operations.Runner, stage operations.Stage) error {
	state := runner.State()
	cfg := state.Config

	for _, dep := range stage.Dependencies() {
		switch dep {
		case operations.StageMerge:
			// The align stage needs the merged dataset in memory, so
			// it re-runs the merge rather than reparsing the artifact.
			if err := runner.RunStage(ctx, operations.NewMergeStage()); err != nil {
				return err
			}
		case operations.StageAlign:
			events, err := alignment.LoadCSV(cfg.Paths.ArtifactPath(config.AlignedFile))
			if err != nil {
				return err
			}
			state.SetAligned(events)
		case operations.StageAdaptive:
			if err := runner.RunStage(ctx, operations.NewAdaptiveStage()); err != nil {
				return err
			}
		}
	}
	return nil
}
