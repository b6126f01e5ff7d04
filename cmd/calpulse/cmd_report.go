package main

import (
	"github.com/spf13/cobra"

	"calpulse/internal/exporter"
	"calpulse/internal/infrastructure"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the Excel report workbook from existing artifacts",
	Long: `Assemble the CSV artifacts of a previous run into a single Excel
workbook. Artifacts missing from the output directory are skipped,
except the aligned events which every report needs.`,
	RunE: runReportCmd,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	_, err = exporter.NewReporter(cfg.Paths, logger).WriteReport()
	return err
}
