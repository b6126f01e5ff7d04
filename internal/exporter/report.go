// Package exporter assembles the analysis artifacts of one pipeline run
// into a single Excel workbook for review.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"calpulse/internal/config"
	"calpulse/internal/errors"
)

// sheetSpec binds one artifact CSV to a workbook sheet.
type sheetSpec struct {
	Sheet    string
	Artifact string
	Required bool
}

// sheets lists the artifacts worth carrying into the workbook, in tab
// order. Only the aligned events are required; the rest depend on how
// much data the run had.
var sheets = []sheetSpec{
	{Sheet: "Events", Artifact: config.AlignedFile, Required: true},
	{Sheet: "Heatmap", Artifact: config.HeatmapFile},
	{Sheet: "Flags", Artifact: config.FlagsFile},
	{Sheet: "Components", Artifact: config.DecomposeSummaryFile},
	{Sheet: "Streaks", Artifact: config.PathSummaryFile},
	{Sheet: "Preheat", Artifact: config.PreheatSummaryFile},
	{Sheet: "Prototypes", Artifact: config.PrototypeCentroidsFile},
	{Sheet: "Trends", Artifact: config.TrendIndicatorFile},
	{Sheet: "Adaptive", Artifact: config.AdaptiveSummaryFile},
	{Sheet: "Priority", Artifact: config.PriorityEventsFile},
	{Sheet: "Calibration", Artifact: config.CalibrationFile},
}

// maxSheetRows bounds each sheet so a large run cannot produce an
// unmanageable workbook.
const maxSheetRows = 10000

// Reporter writes the run report workbook.
type Reporter struct {
	paths  config.PathsConfig
	logger *slog.Logger
}

// NewReporter creates a Reporter over the run's output directory.
func NewReporter(paths config.PathsConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{paths: paths, logger: logger}
}

// WriteReport builds the workbook from the artifacts present in the
// output directory and saves it as the report file. Missing optional
// artifacts are skipped. It returns the sheets written.
func (r *Reporter) WriteReport() ([]string, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return nil, errors.NewIO("exporter", "create header style", err)
	}

	var written []string
	for _, spec := range sheets {
		path := r.paths.ArtifactPath(spec.Artifact)
		rows, err := readArtifact(path)
		if err != nil {
			if os.IsNotExist(err) && !spec.Required {
				r.logger.Debug("report sheet skipped", "sheet", spec.Sheet, "artifact", spec.Artifact)
				continue
			}
			return nil, errors.NewIO("exporter", fmt.Sprintf("read %s", path), err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := writeSheet(f, spec.Sheet, rows, headerStyle); err != nil {
			return nil, err
		}
		written = append(written, spec.Sheet)
	}

	if len(written) == 0 {
		return nil, errors.NewEmpty("exporter", "no artifacts available for the report")
	}

	// The default sheet the library creates is replaced by the first
	// artifact sheet.
	f.DeleteSheet("Sheet1")
	index, err := f.GetSheetIndex(written[0])
	if err != nil {
		return nil, errors.NewIO("exporter", "resolve first sheet", err)
	}
	f.SetActiveSheet(index)

	out := r.paths.ArtifactPath(config.ReportFile)
	if err := f.SaveAs(out); err != nil {
		return nil, errors.NewIO("exporter", fmt.Sprintf("save %s", out), err)
	}
	r.logger.Info("report workbook written", "path", out, "sheets", len(written))
	return written, nil
}

func readArtifact(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func writeSheet(f *excelize.File, sheet string, rows [][]string, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.NewIO("exporter", fmt.Sprintf("create sheet %s", sheet), err)
	}

	if len(rows) > maxSheetRows {
		rows = rows[:maxSheetRows]
	}

	widths := make([]int, len(rows[0]))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, value := range row {
			cells[j] = cellValue(i, value)
			if j < len(widths) && len(value) > widths[j] {
				widths[j] = len(value)
			}
		}
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.NewIO("exporter", "compute cell address", err)
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			return errors.NewIO("exporter", fmt.Sprintf("write sheet %s row %d", sheet, i+1), err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return errors.NewIO("exporter", "compute header range", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return errors.NewIO("exporter", fmt.Sprintf("style sheet %s header", sheet), err)
	}

	for j, width := range widths {
		col, err := excelize.ColumnNumberToName(j + 1)
		if err != nil {
			return errors.NewIO("exporter", "compute column name", err)
		}
		w := float64(width) + 2
		if w < 10 {
			w = 10
		}
		if w > 60 {
			w = 60
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return errors.NewIO("exporter", fmt.Sprintf("size column %s on %s", col, sheet), err)
		}
	}
	return nil
}

// cellValue keeps numeric columns numeric so Excel sorts and charts
// them correctly. The header row stays textual.
func cellValue(rowIndex int, value string) interface{} {
	if rowIndex == 0 || value == "" {
		return value
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}
