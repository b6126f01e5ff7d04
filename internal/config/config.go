// Package config loads and validates the pipeline configuration from
// defaults, an optional YAML file and CALPULSE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/calpulse.log"`
}

// MetricsConfig controls the run metrics snapshot and optional tracing.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	SnapshotFile  string `yaml:"snapshot_file" envconfig:"SNAPSHOT_FILE" default:"run_metrics.prom"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING" default:"false"`
}

// PathsConfig contains input and output locations.
type PathsConfig struct {
	PriceFile   string `yaml:"price_file" envconfig:"PRICE_FILE" default:"data/price_minutes.csv" validate:"required"`
	CalendarDir string `yaml:"calendar_dir" envconfig:"CALENDAR_DIR" default:"data/calendar" validate:"required"`
	AliasFile   string `yaml:"alias_file" envconfig:"ALIAS_FILE"`
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"output" validate:"required"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// PipelineConfig carries the stage parameters.
type PipelineConfig struct {
	Timezone          string        `yaml:"timezone" envconfig:"TIMEZONE" default:"Asia/Shanghai" validate:"required"`
	PreWindowMinutes  int           `yaml:"pre_window_minutes" envconfig:"PRE_WINDOW_MINUTES" default:"1440" validate:"min=1"`
	PostWindowMinutes int           `yaml:"post_window_minutes" envconfig:"POST_WINDOW_MINUTES" default:"1440" validate:"min=1"`
	Currencies        []string      `yaml:"currencies" envconfig:"CURRENCIES" default:"USD"`
	Importance        []string      `yaml:"importance" envconfig:"IMPORTANCE" default:"Medium,High"`
	StageTimeout      time.Duration `yaml:"stage_timeout" envconfig:"STAGE_TIMEOUT" default:"30m"`

	Alignment   AlignmentConfig   `yaml:"alignment" envconfig:"ALIGNMENT"`
	DeepDive    DeepDiveConfig    `yaml:"deepdive" envconfig:"DEEPDIVE"`
	Decompose   DecomposeConfig   `yaml:"decompose" envconfig:"DECOMPOSE"`
	PathDep     PathDepConfig     `yaml:"pathdep" envconfig:"PATHDEP"`
	Preheat     PreheatConfig     `yaml:"preheat" envconfig:"PREHEAT"`
	Prototype   PrototypeConfig   `yaml:"prototype" envconfig:"PROTOTYPE"`
	Trend       TrendConfig       `yaml:"trend" envconfig:"TREND"`
	Adaptive    AdaptiveConfig    `yaml:"adaptive" envconfig:"ADAPTIVE"`
	Priority    PriorityConfig    `yaml:"priority" envconfig:"PRIORITY"`
	Uncertainty UncertaintyConfig `yaml:"uncertainty" envconfig:"UNCERTAINTY"`
}

// AlignmentConfig parameterizes the event alignment stage.
type AlignmentConfig struct {
	Windows []int `yaml:"windows" envconfig:"WINDOWS" default:"1,15,60,120,240,1440"`
}

// DeepDiveConfig parameterizes the threshold and flag stage.
type DeepDiveConfig struct {
	Quantiles     []float64 `yaml:"quantiles" envconfig:"QUANTILES" default:"0.75,0.9"`
	FlagQuantile  float64   `yaml:"flag_quantile" envconfig:"FLAG_QUANTILE" default:"0.9"`
	ShortWindows  []int     `yaml:"short_windows" envconfig:"SHORT_WINDOWS" default:"15,60"`
	MediumWindows []int     `yaml:"medium_windows" envconfig:"MEDIUM_WINDOWS" default:"60,120,240"`
	PreWindows    []int     `yaml:"pre_windows" envconfig:"PRE_WINDOWS" default:"15,60,120,240,1440"`
	PostWindows   []int     `yaml:"post_windows" envconfig:"POST_WINDOWS" default:"15,60,120,240,1440"`
}

// DecomposeConfig parameterizes the component decomposition stage.
type DecomposeConfig struct {
	MinEvents int `yaml:"min_events" envconfig:"MIN_EVENTS" default:"5" validate:"min=1"`
}

// PathDepConfig parameterizes the streak analysis stage.
type PathDepConfig struct {
	MinEvents int `yaml:"min_events" envconfig:"MIN_EVENTS" default:"5" validate:"min=1"`
}

// PreheatConfig parameterizes the pre-event monitor stage.
type PreheatConfig struct {
	PreWindows      []int     `yaml:"pre_windows" envconfig:"PRE_WINDOWS" default:"15,60"`
	VolumeBaselines []int     `yaml:"volume_baselines" envconfig:"VOLUME_BASELINES" default:"60,240,1440"`
	Quantiles       []float64 `yaml:"quantiles" envconfig:"QUANTILES" default:"0.75,0.9,0.95"`
	FlagQuantile    float64   `yaml:"flag_quantile" envconfig:"FLAG_QUANTILE" default:"0.9"`
}

// PrototypeConfig parameterizes the clustering stage.
type PrototypeConfig struct {
	MinEvents   int   `yaml:"min_events" envconfig:"MIN_EVENTS" default:"12" validate:"min=2"`
	MaxClusters int   `yaml:"max_clusters" envconfig:"MAX_CLUSTERS" default:"4" validate:"min=1"`
	RandomSeed  int64 `yaml:"random_seed" envconfig:"RANDOM_SEED" default:"42"`
}

// TrendConfig parameterizes the indicator trend stage.
type TrendConfig struct {
	MinEvents     int `yaml:"min_events" envconfig:"MIN_EVENTS" default:"12" validate:"min=1"`
	MinCorrEvents int `yaml:"min_corr_events" envconfig:"MIN_CORR_EVENTS" default:"24" validate:"min=1"`
}

// AdaptiveConfig parameterizes the adaptive window stage.
type AdaptiveConfig struct {
	PostWindows       []int     `yaml:"post_windows" envconfig:"POST_WINDOWS"`
	DominanceRatio    float64   `yaml:"dominance_ratio" envconfig:"DOMINANCE_RATIO" default:"0.8"`
	SurpriseQuantiles []float64 `yaml:"surprise_quantiles" envconfig:"SURPRISE_QUANTILES" default:"0.33,0.66"`
	MinEvents         int       `yaml:"min_events" envconfig:"MIN_EVENTS" default:"15" validate:"min=1"`
	MinShare          float64   `yaml:"min_share" envconfig:"MIN_SHARE" default:"0.15"`
	TopWindows        int       `yaml:"top_windows" envconfig:"TOP_WINDOWS" default:"3" validate:"min=1"`
	FallbackWindows   []int     `yaml:"fallback_windows" envconfig:"FALLBACK_WINDOWS" default:"60,120,240"`
}

// PriorityConfig parameterizes the routing stage.
type PriorityConfig struct {
	ImportanceWeight  float64 `yaml:"importance_weight" envconfig:"IMPORTANCE_WEIGHT" default:"5"`
	SurpriseWeight    float64 `yaml:"surprise_weight" envconfig:"SURPRISE_WEIGHT" default:"3"`
	ReturnWeight      float64 `yaml:"return_weight" envconfig:"RETURN_WEIGHT" default:"4"`
	DominanceWeight   float64 `yaml:"dominance_weight" envconfig:"DOMINANCE_WEIGHT" default:"2"`
	SurpriseCap       float64 `yaml:"surprise_cap" envconfig:"SURPRISE_CAP" default:"5.0"`
	ReturnCap         float64 `yaml:"return_cap" envconfig:"RETURN_CAP" default:"1.5"`
	MinSignal         float64 `yaml:"min_signal" envconfig:"MIN_SIGNAL" default:"0.05"`
	MinGroupSize      int     `yaml:"min_group_size" envconfig:"MIN_GROUP_SIZE" default:"2"`
	IncludeSingletons bool    `yaml:"include_singletons" envconfig:"INCLUDE_SINGLETONS" default:"false"`
}

// UncertaintyConfig parameterizes the calibration stage.
type UncertaintyConfig struct {
	Windows        []int     `yaml:"windows" envconfig:"WINDOWS" default:"60,120,240,1440"`
	Quantiles      []float64 `yaml:"quantiles" envconfig:"QUANTILES" default:"0.05,0.1,0.25,0.5,0.75,0.9,0.95"`
	MinSamples     int       `yaml:"min_samples" envconfig:"MIN_SAMPLES" default:"15" validate:"min=5"`
	MinCalibration int       `yaml:"min_calibration" envconfig:"MIN_CALIBRATION" default:"30" validate:"min=10"`
}

// Load builds the configuration. Struct defaults and CALPULSE_*
// environment variables are applied first, then keys present in the YAML
// file override them.
func Load(configFile string) (*Config, error) {
	var cfg Config

	// envconfig applies struct defaults even when no variables are set.
	if err := envconfig.Process("CALPULSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
		if err := loadFromFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate runs struct-tag validation plus the cross-field rules the
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	p := &c.Pipeline
	if len(p.Currencies) == 0 {
		return fmt.Errorf("pipeline: at least one currency required (use ALL to disable filtering)")
	}
	if len(p.Alignment.Windows) == 0 {
		return fmt.Errorf("alignment: at least one window required")
	}
	for _, w := range p.Alignment.Windows {
		if w <= 0 {
			return fmt.Errorf("alignment: window must be positive, got %d", w)
		}
	}
	if err := validateQuantiles("deepdive", p.DeepDive.Quantiles, p.DeepDive.FlagQuantile); err != nil {
		return err
	}
	if err := validateQuantiles("preheat", p.Preheat.Quantiles, p.Preheat.FlagQuantile); err != nil {
		return err
	}
	if p.Adaptive.DominanceRatio <= 0 || p.Adaptive.DominanceRatio > 1 {
		return fmt.Errorf("adaptive: dominance_ratio must be in (0, 1], got %g", p.Adaptive.DominanceRatio)
	}
	for _, q := range p.Adaptive.SurpriseQuantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("adaptive: surprise quantile must be in (0, 1), got %g", q)
		}
	}
	if p.Priority.SurpriseCap <= 0 || p.Priority.ReturnCap <= 0 {
		return fmt.Errorf("priority: caps must be positive")
	}
	if p.Priority.MinSignal < 0 {
		return fmt.Errorf("priority: min_signal must be non-negative, got %g", p.Priority.MinSignal)
	}
	for _, q := range p.Uncertainty.Quantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("uncertainty: quantile must be in (0, 1), got %g", q)
		}
	}
	return nil
}

func validateQuantiles(stage string, quantiles []float64, flagQuantile float64) error {
	if flagQuantile <= 0 || flagQuantile >= 1 {
		return fmt.Errorf("%s: flag_quantile must be in (0, 1), got %g", stage, flagQuantile)
	}
	for _, q := range quantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("%s: quantile must be in (0, 1), got %g", stage, q)
		}
	}
	return nil
}
