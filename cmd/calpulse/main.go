// calpulse is the command-line entry point for the economic event
// impact pipeline. It merges minute price bars with the economic
// calendar, aligns each release with its surrounding returns, and runs
// the analysis stages over the aligned events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calpulse/internal/config"
	"calpulse/internal/infrastructure"
)

var (
	flagConfigFile string
	flagOutputDir  string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "calpulse",
	Short: "Economic event price impact pipeline",
	Long: `calpulse merges minute price bars with economic calendar releases and
measures how prices react around each release: thresholds and review
flags, surprise decomposition, streaks, pre-event warmup, reaction
prototypes, indicator trends, adaptive windows, priority routing and
uncertainty calibration.

Run the full pipeline:
  calpulse run --config calpulse.yaml

Run one stage against existing artifacts:
  calpulse adaptive --out output`,
	Version:       infrastructure.ServiceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagOutputDir, "out", "", "Output directory override")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug|info|warn|error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration from defaults, environment,
// the optional config file, and the command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return nil, err
	}
	if flagOutputDir != "" {
		cfg.Paths.OutputDir = flagOutputDir
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}
