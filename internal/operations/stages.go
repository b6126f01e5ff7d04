package operations

import (
	"context"
	"time"

	"calpulse/internal/adaptive"
	"calpulse/internal/alignment"
	"calpulse/internal/calendar"
	"calpulse/internal/config"
	"calpulse/internal/decompose"
	"calpulse/internal/deepdive"
	"calpulse/internal/errors"
	"calpulse/internal/merge"
	"calpulse/internal/pathdep"
	"calpulse/internal/preheat"
	"calpulse/internal/prices"
	"calpulse/internal/priority"
	"calpulse/internal/prototype"
	"calpulse/internal/trend"
	"calpulse/internal/uncertainty"
)

// Stage IDs.
const (
	StageMerge       = "merge"
	StageAlign       = "align"
	StageDeepDive    = "deepdive"
	StageDecompose   = "decompose"
	StagePathDep     = "pathdep"
	StagePreheat     = "preheat"
	StagePrototype   = "prototype"
	StageTrend       = "trend"
	StageAdaptive    = "adaptive"
	StagePriority    = "priority"
	StageUncertainty = "uncertainty"
)

type baseStage struct {
	id   string
	name string
	deps []string
}

func (b baseStage) ID() string              { return b.id }
func (b baseStage) Name() string            { return b.name }
func (b baseStage) Dependencies() []string  { return b.deps }
func (b baseStage) Validate(_ *State) error { return nil }

// needAligned is the shared precondition of every post-alignment stage.
func needAligned(state *State) error {
	if len(state.Aligned()) == 0 {
		return errors.NewEmpty("operations", "aligned events not available")
	}
	return nil
}

// MergeStage loads prices and calendars and merges them.
type MergeStage struct{ baseStage }

// NewMergeStage creates the merge stage.
func NewMergeStage() *MergeStage {
	return &MergeStage{baseStage{id: StageMerge, name: "Merge prices with calendar"}}
}

// Validate checks the input paths are configured.
func (s *MergeStage) Validate(state *State) error {
	if state.Config.Paths.PriceFile == "" {
		return errors.NewConfig(StageMerge, "price file not configured")
	}
	if state.Config.Paths.CalendarDir == "" {
		return errors.NewConfig(StageMerge, "calendar directory not configured")
	}
	return nil
}

func (s *MergeStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	location, err := time.LoadLocation(cfg.Pipeline.Timezone)
	if err != nil {
		return errors.NewConfig(StageMerge, "invalid timezone "+cfg.Pipeline.Timezone)
	}

	bars, err := prices.NewLoader(location, state.Logger).Load(ctx, cfg.Paths.PriceFile)
	if err != nil {
		return err
	}
	state.Metrics.AddRowsRead(ctx, StageMerge, len(bars))

	merger := merge.NewMerger(merge.Config{
		PreWindowMinutes:  cfg.Pipeline.PreWindowMinutes,
		PostWindowMinutes: cfg.Pipeline.PostWindowMinutes,
		Currencies:        cfg.Pipeline.Currencies,
		Importance:        cfg.Pipeline.Importance,
	}, calendar.NewLoader(location, state.Logger), cfg.Paths, location, state.Logger)

	dataset, err := merger.Merge(ctx, bars)
	if err != nil {
		return err
	}
	state.SetDataset(dataset)

	path := cfg.Paths.ArtifactPath(config.MergedFile)
	if err := dataset.SaveCSV(path); err != nil {
		return err
	}
	state.Metrics.AddRowsWritten(ctx, StageMerge, len(dataset.Rows))

	st := state.StageState(s.id, s.name)
	st.SetRows(len(bars), len(dataset.Rows))
	st.AddArtifact(path)
	return nil
}

// AlignStage summarizes the merged minutes per event.
type AlignStage struct{ baseStage }

// NewAlignStage creates the alignment stage.
func NewAlignStage() *AlignStage {
	return &AlignStage{baseStage{id: StageAlign, name: "Align events", deps: []string{StageMerge}}}
}

func (s *AlignStage) Validate(state *State) error {
	if state.Dataset() == nil {
		return errors.NewEmpty(StageAlign, "merged dataset not available")
	}
	return nil
}

func (s *AlignStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	aligner := alignment.NewAligner(alignment.Config{
		Windows:           cfg.Pipeline.Alignment.Windows,
		PreWindowMinutes:  cfg.Pipeline.PreWindowMinutes,
		PostWindowMinutes: cfg.Pipeline.PostWindowMinutes,
	}, state.Logger)

	dataset := state.Dataset()
	events, err := aligner.Align(ctx, dataset)
	if err != nil {
		return err
	}
	state.SetAligned(events)

	path := cfg.Paths.ArtifactPath(config.AlignedFile)
	if err := alignment.SaveCSV(events, path); err != nil {
		return err
	}
	state.Metrics.AddRowsWritten(ctx, StageAlign, len(events))

	st := state.StageState(s.id, s.name)
	st.SetRows(len(dataset.Rows), len(events))
	st.AddArtifact(path)
	return nil
}

// DeepDiveStage derives thresholds and review flags.
type DeepDiveStage struct{ baseStage }

// NewDeepDiveStage creates the deep-dive stage.
func NewDeepDiveStage() *DeepDiveStage {
	return &DeepDiveStage{baseStage{id: StageDeepDive, name: "Threshold deep dive", deps: []string{StageAlign}}}
}

func (s *DeepDiveStage) Validate(state *State) error { return needAligned(state) }

func (s *DeepDiveStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	agg := deepdive.NewAggregator(deepdive.Config{
		Quantiles:     cfg.Pipeline.DeepDive.Quantiles,
		FlagQuantile:  cfg.Pipeline.DeepDive.FlagQuantile,
		PreWindows:    cfg.Pipeline.DeepDive.PreWindows,
		PostWindows:   cfg.Pipeline.DeepDive.PostWindows,
		MediumWindows: cfg.Pipeline.DeepDive.MediumWindows,
	}, state.Logger)

	events := state.Aligned()
	result, err := agg.Aggregate(ctx, events)
	if err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	for name, save := range map[string]func(string) error{
		config.HeatmapFile:    result.SaveHeatmapCSV,
		config.ThresholdsFile: result.SaveThresholdsCSV,
		config.FlagsFile:      result.SaveFlagsCSV,
	} {
		path := cfg.Paths.ArtifactPath(name)
		if err := save(path); err != nil {
			return err
		}
		st.AddArtifact(path)
	}
	st.SetRows(len(events), len(result.Flags))
	state.Metrics.AddRowsWritten(ctx, StageDeepDive, len(result.Flags))
	return nil
}

// DecomposeStage builds the component decomposition.
type DecomposeStage struct{ baseStage }

// NewDecomposeStage creates the decomposition stage.
func NewDecomposeStage() *DecomposeStage {
	return &DecomposeStage{baseStage{id: StageDecompose, name: "Component decomposition", deps: []string{StageAlign}}}
}

func (s *DecomposeStage) Validate(state *State) error { return needAligned(state) }

func (s *DecomposeStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	d := decompose.NewDecomposer(decompose.Config{
		MinEvents: cfg.Pipeline.Decompose.MinEvents,
	}, state.Logger)

	events := state.Aligned()
	result, err := d.Decompose(ctx, events)
	if err != nil {
		return err
	}

	detail := cfg.Paths.ArtifactPath(config.DecomposeDetailFile)
	summary := cfg.Paths.ArtifactPath(config.DecomposeSummaryFile)
	if err := result.SaveDetailCSV(detail); err != nil {
		return err
	}
	if err := result.SaveSummaryCSV(summary); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Detail))
	st.AddArtifact(detail)
	st.AddArtifact(summary)
	return nil
}

// PathDepStage runs the surprise streak analysis.
type PathDepStage struct{ baseStage }

// NewPathDepStage creates the path dependency stage.
func NewPathDepStage() *PathDepStage {
	return &PathDepStage{baseStage{id: StagePathDep, name: "Path dependency", deps: []string{StageAlign}}}
}

func (s *PathDepStage) Validate(state *State) error { return needAligned(state) }

func (s *PathDepStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	a := pathdep.NewAnalyzer(pathdep.Config{
		MinEvents: cfg.Pipeline.PathDep.MinEvents,
	}, state.Logger)

	events := state.Aligned()
	result, err := a.Analyze(ctx, events)
	if err != nil {
		return err
	}

	detail := cfg.Paths.ArtifactPath(config.PathDetailFile)
	summary := cfg.Paths.ArtifactPath(config.PathSummaryFile)
	if err := result.SaveDetailCSV(detail); err != nil {
		return err
	}
	if err := result.SaveSummaryCSV(summary); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Detail))
	st.AddArtifact(detail)
	st.AddArtifact(summary)
	return nil
}

// PreheatStage flags abnormal pre-event behavior.
type PreheatStage struct{ baseStage }

// NewPreheatStage creates the preheat stage.
func NewPreheatStage() *PreheatStage {
	return &PreheatStage{baseStage{id: StagePreheat, name: "Preheat monitor", deps: []string{StageAlign}}}
}

func (s *PreheatStage) Validate(state *State) error { return needAligned(state) }

func (s *PreheatStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	m := preheat.NewMonitor(preheat.Config{
		PreWindows:      cfg.Pipeline.Preheat.PreWindows,
		VolumeBaselines: cfg.Pipeline.Preheat.VolumeBaselines,
		Quantiles:       cfg.Pipeline.Preheat.Quantiles,
		FlagQuantile:    cfg.Pipeline.Preheat.FlagQuantile,
	}, state.Logger)

	events := state.Aligned()
	result, err := m.Monitor(ctx, events)
	if err != nil {
		return err
	}

	detail := cfg.Paths.ArtifactPath(config.PreheatDetailFile)
	thresholds := cfg.Paths.ArtifactPath(config.PreheatThresholdsFile)
	summary := cfg.Paths.ArtifactPath(config.PreheatSummaryFile)
	if err := m.SaveDetailCSV(result, detail); err != nil {
		return err
	}
	if err := preheat.SaveThresholdsCSV(result.Thresholds, thresholds); err != nil {
		return err
	}
	if err := preheat.SaveSummaryCSV(result.Summary, summary); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Events))
	st.AddArtifact(detail)
	st.AddArtifact(thresholds)
	st.AddArtifact(summary)
	return nil
}

// PrototypeStage clusters reaction shapes.
type PrototypeStage struct{ baseStage }

// NewPrototypeStage creates the prototype stage.
func NewPrototypeStage() *PrototypeStage {
	return &PrototypeStage{baseStage{id: StagePrototype, name: "Reaction prototypes", deps: []string{StageAlign}}}
}

func (s *PrototypeStage) Validate(state *State) error { return needAligned(state) }

func (s *PrototypeStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	c := prototype.NewClusterer(prototype.Config{
		MinEvents:   cfg.Pipeline.Prototype.MinEvents,
		MaxClusters: cfg.Pipeline.Prototype.MaxClusters,
		Seed:        cfg.Pipeline.Prototype.RandomSeed,
	}, state.Logger)

	events := state.Aligned()
	result, err := c.Cluster(ctx, events)
	if err != nil {
		// Sparse data legitimately yields no eligible group.
		if errors.IsEmpty(err) {
			state.StageState(s.id, s.name).Skip("no group reached the minimum event count")
			state.Logger.WarnContext(ctx, "prototype stage skipped", "reason", err.Error())
			return nil
		}
		return err
	}

	detail := cfg.Paths.ArtifactPath(config.PrototypeDetailFile)
	centroids := cfg.Paths.ArtifactPath(config.PrototypeCentroidsFile)
	summary := cfg.Paths.ArtifactPath(config.PrototypeSummaryFile)
	if err := prototype.SaveDetailCSV(result.Detail, detail); err != nil {
		return err
	}
	if err := prototype.SaveCentroidsCSV(result.Centroids, centroids); err != nil {
		return err
	}
	if err := prototype.SaveSummaryCSV(result.Summary, summary); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Detail))
	st.AddArtifact(detail)
	st.AddArtifact(centroids)
	st.AddArtifact(summary)
	return nil
}

// TrendStage canonicalizes names and derives monthly statistics.
type TrendStage struct{ baseStage }

// NewTrendStage creates the trend stage.
func NewTrendStage() *TrendStage {
	return &TrendStage{baseStage{id: StageTrend, name: "Indicator trends", deps: []string{StageAlign}}}
}

func (s *TrendStage) Validate(state *State) error { return needAligned(state) }

func (s *TrendStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config

	var manual map[string]string
	if cfg.Paths.AliasFile != "" {
		loaded, err := trend.LoadManualAliases(cfg.Paths.AliasFile)
		if err != nil {
			return err
		}
		manual = loaded
	}

	a := trend.NewAnalyzer(trend.Config{
		MinMonthlyRows:          cfg.Pipeline.Trend.MinEvents,
		MinEventsForCorrelation: cfg.Pipeline.Trend.MinCorrEvents,
	}, state.Logger)

	events := state.Aligned()
	result, err := a.Analyze(ctx, events, manual)
	if err != nil {
		return err
	}

	monthly := cfg.Paths.ArtifactPath(config.TrendMonthlyFile)
	indicators := cfg.Paths.ArtifactPath(config.TrendIndicatorFile)
	correlations := cfg.Paths.ArtifactPath(config.TrendCorrelationFile)
	autoAliases := cfg.Paths.ArtifactPath(config.TrendAutoAliasFile)
	suggestions := cfg.Paths.ArtifactPath(config.TrendSuggestionsFile)

	if err := trend.SaveMonthlyCSV(result.Monthly, monthly); err != nil {
		return err
	}
	if err := trend.SaveIndicatorCSV(result.Indicators, indicators); err != nil {
		return err
	}
	if err := trend.SaveCorrelationCSV(result.Correlations, correlations); err != nil {
		return err
	}
	if err := trend.SaveAutoAliasCSV(result.AutoAliases, autoAliases); err != nil {
		return err
	}
	if err := trend.SaveSuggestionsCSV(result.Suggestions, suggestions); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Monthly))
	st.AddArtifact(monthly)
	st.AddArtifact(indicators)
	st.AddArtifact(correlations)
	return nil
}

// AdaptiveStage derives dominant windows and recommendations.
type AdaptiveStage struct{ baseStage }

// NewAdaptiveStage creates the adaptive window stage.
func NewAdaptiveStage() *AdaptiveStage {
	return &AdaptiveStage{baseStage{id: StageAdaptive, name: "Adaptive windows", deps: []string{StageAlign}}}
}

func (s *AdaptiveStage) Validate(state *State) error { return needAligned(state) }

func (s *AdaptiveStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	a := adaptive.NewAnalyzer(adaptive.Config{
		Windows:         cfg.Pipeline.Adaptive.PostWindows,
		DominanceRatio:  cfg.Pipeline.Adaptive.DominanceRatio,
		BucketQuantiles: cfg.Pipeline.Adaptive.SurpriseQuantiles,
		MinEvents:       cfg.Pipeline.Adaptive.MinEvents,
		MinShare:        cfg.Pipeline.Adaptive.MinShare,
		TopWindows:      cfg.Pipeline.Adaptive.TopWindows,
		FallbackWindows: cfg.Pipeline.Adaptive.FallbackWindows,
	}, state.Logger)

	events := state.Aligned()
	result, err := a.Analyze(ctx, events)
	if err != nil {
		return err
	}
	state.SetAdaptiveResult(result)

	detail := cfg.Paths.ArtifactPath(config.AdaptiveDetailFile)
	summary := cfg.Paths.ArtifactPath(config.AdaptiveSummaryFile)
	recs := cfg.Paths.ArtifactPath(config.AdaptiveRecsFile)
	if err := adaptive.SaveDetailCSV(result.Detail, detail); err != nil {
		return err
	}
	if err := adaptive.SaveSummaryCSV(result.Summary, result.Windows, summary); err != nil {
		return err
	}
	if err := adaptive.SaveRecommendationsJSON(a.BuildRecommendations(result, state.RunID), recs); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Detail))
	st.AddArtifact(detail)
	st.AddArtifact(summary)
	st.AddArtifact(recs)
	return nil
}

// PriorityStage scores simultaneous releases.
type PriorityStage struct{ baseStage }

// NewPriorityStage creates the priority stage.
func NewPriorityStage() *PriorityStage {
	return &PriorityStage{baseStage{
		id:   StagePriority,
		name: "Priority routing",
		deps: []string{StageAlign, StageAdaptive},
	}}
}

func (s *PriorityStage) Validate(state *State) error {
	if err := needAligned(state); err != nil {
		return err
	}
	if state.AdaptiveResult() == nil {
		return errors.NewEmpty(StagePriority, "adaptive detail not available")
	}
	return nil
}

func (s *PriorityStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	sc := priority.NewScorer(priority.Config{
		WeightImportance:  cfg.Pipeline.Priority.ImportanceWeight,
		WeightSurprise:    cfg.Pipeline.Priority.SurpriseWeight,
		WeightReturn:      cfg.Pipeline.Priority.ReturnWeight,
		WeightDominance:   cfg.Pipeline.Priority.DominanceWeight,
		SurpriseCap:       cfg.Pipeline.Priority.SurpriseCap,
		ReturnCap:         cfg.Pipeline.Priority.ReturnCap,
		MinSignal:         cfg.Pipeline.Priority.MinSignal,
		MinGroupSize:      cfg.Pipeline.Priority.MinGroupSize,
		IncludeSingletons: cfg.Pipeline.Priority.IncludeSingletons,
	}, state.Logger)

	events := state.Aligned()
	result, err := sc.Score(ctx, events, state.AdaptiveResult().Detail)
	if err != nil {
		return err
	}

	eventsPath := cfg.Paths.ArtifactPath(config.PriorityEventsFile)
	groupsPath := cfg.Paths.ArtifactPath(config.PriorityGroupsFile)
	rulesPath := cfg.Paths.ArtifactPath(config.PriorityRulesFile)
	if err := priority.SaveEventsCSV(result.Events, eventsPath); err != nil {
		return err
	}
	if err := priority.SaveGroupsCSV(result.Groups, groupsPath); err != nil {
		return err
	}
	if err := priority.SaveRulesJSON(sc.BuildRules(result, state.RunID), rulesPath); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Events))
	st.AddArtifact(eventsPath)
	st.AddArtifact(groupsPath)
	st.AddArtifact(rulesPath)
	return nil
}

// UncertaintyStage builds intervals and the calibration table.
type UncertaintyStage struct{ baseStage }

// NewUncertaintyStage creates the uncertainty stage.
func NewUncertaintyStage() *UncertaintyStage {
	return &UncertaintyStage{baseStage{
		id:   StageUncertainty,
		name: "Uncertainty calibration",
		deps: []string{StageAlign},
	}}
}

func (s *UncertaintyStage) Validate(state *State) error { return needAligned(state) }

func (s *UncertaintyStage) Run(ctx context.Context, state *State) error {
	cfg := state.Config
	e := uncertainty.NewEstimator(uncertainty.Config{
		Windows:        cfg.Pipeline.Uncertainty.Windows,
		Quantiles:      cfg.Pipeline.Uncertainty.Quantiles,
		MinSamples:     cfg.Pipeline.Uncertainty.MinSamples,
		MinCalibration: cfg.Pipeline.Uncertainty.MinCalibration,
	}, state.Logger)

	events := state.Aligned()
	result, err := e.Estimate(ctx, events)
	if err != nil {
		return err
	}

	intervals := cfg.Paths.ArtifactPath(config.UncertaintyIntervalFile)
	predictions := cfg.Paths.ArtifactPath(config.UncertaintyEventsFile)
	calibration := cfg.Paths.ArtifactPath(config.CalibrationFile)
	meta := cfg.Paths.ArtifactPath(config.UncertaintyMetaFile)
	if err := e.SaveIntervalsCSV(result.Intervals, intervals); err != nil {
		return err
	}
	if err := uncertainty.SaveEventsCSV(result.Events, predictions); err != nil {
		return err
	}
	if err := uncertainty.SaveCalibrationCSV(result.Calibration, calibration); err != nil {
		return err
	}
	if err := uncertainty.SaveMetadataJSON(e.BuildMetadata(result, state.RunID), meta); err != nil {
		return err
	}

	st := state.StageState(s.id, s.name)
	st.SetRows(len(events), len(result.Events))
	st.AddArtifact(intervals)
	st.AddArtifact(predictions)
	st.AddArtifact(calibration)
	st.AddArtifact(meta)
	return nil
}
