package operations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"calpulse/internal/config"
	"calpulse/internal/errors"
)

// Runner executes the stage DAG for one pipeline run.
type Runner struct {
	state *State
}

// NewRunner creates a Runner with a fresh run id.
func NewRunner(cfg *config.Config, state *State) *Runner {
	if state == nil {
		state = NewState(uuid.NewString(), cfg, nil, nil)
	}
	return &Runner{state: state}
}

// State exposes the run state.
func (r *Runner) State() *State {
	return r.state
}

// Run executes the full pipeline: merge, alignment, the independent
// analysis stages in parallel, then the adaptive-dependent stages.
// The manifest and metrics snapshot are written regardless of outcome.
func (r *Runner) Run(ctx context.Context) (err error) {
	state := r.state
	cfg := state.Config

	if err := cfg.Paths.EnsureOutputDir(); err != nil {
		return errors.NewIO("operations", "create output directory", err)
	}

	state.Start()
	state.Logger.InfoContext(ctx, "pipeline run starting", "run_id", state.RunID)

	defer func() {
		switch {
		case err == nil:
			state.Complete()
		case ctx.Err() != nil:
			state.Cancel()
		default:
			state.Fail()
		}
		manifest := BuildManifest(state)
		if saveErr := manifest.Save(cfg.Paths.ArtifactPath(config.ManifestFile)); saveErr != nil {
			state.Logger.WarnContext(ctx, "manifest not written", "error", saveErr)
		}
		if snapErr := state.Metrics.Snapshot(cfg.Paths.ArtifactPath("run_metrics.prom")); snapErr != nil {
			state.Logger.WarnContext(ctx, "metrics snapshot not written", "error", snapErr)
		}
		state.Logger.InfoContext(ctx, "pipeline run finished",
			"run_id", state.RunID,
			"status", state.Status,
			"elapsed", time.Since(state.StartTime).String())
	}()

	if err = r.execute(ctx, NewMergeStage()); err != nil {
		return err
	}
	if err = r.execute(ctx, NewAlignStage()); err != nil {
		return err
	}

	// The analysis stages only read the aligned events, so they fan
	// out in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range []Stage{
		NewDeepDiveStage(),
		NewDecomposeStage(),
		NewPathDepStage(),
		NewPreheatStage(),
		NewPrototypeStage(),
		NewTrendStage(),
		NewAdaptiveStage(),
	} {
		stage := stage
		g.Go(func() error { return r.execute(gctx, stage) })
	}
	if err = g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, stage := range []Stage{
		NewPriorityStage(),
		NewUncertaintyStage(),
	} {
		stage := stage
		g.Go(func() error { return r.execute(gctx, stage) })
	}
	return g.Wait()
}

// RunStage executes one stage against the current state.
func (r *Runner) RunStage(ctx context.Context, stage Stage) error {
	return r.execute(ctx, stage)
}

func (r *Runner) execute(ctx context.Context, stage Stage) error {
	state := r.state
	st := state.StageState(stage.ID(), stage.Name())

	if err := stage.Validate(state); err != nil {
		st.Fail(err)
		return err
	}

	timeout := state.Config.Pipeline.StageTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, endSpan := state.Metrics.StartStageSpan(ctx, stage.ID())
	defer endSpan()

	st.Start()
	state.Logger.InfoContext(ctx, "stage starting", "stage", stage.ID())

	start := time.Now()
	err := stage.Run(ctx, state)
	elapsed := time.Since(start)
	state.Metrics.RecordStage(ctx, stage.ID(), elapsed, err)

	if err != nil {
		if ctx.Err() != nil && errors.TypeOf(err) != errors.TypeCancelled {
			err = errors.NewCancelled(stage.ID(), err)
		}
		st.Fail(err)
		state.Logger.WarnContext(ctx, "stage failed",
			"stage", stage.ID(),
			"elapsed", elapsed.String(),
			"error", err)
		return err
	}

	if st.CurrentStatus() != StageStatusSkipped {
		st.Complete()
	}
	state.Logger.InfoContext(ctx, "stage completed",
		"stage", stage.ID(),
		"elapsed", elapsed.String(),
		"rows_out", st.RowsOut)
	return nil
}
