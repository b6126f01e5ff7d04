package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"calpulse/internal/errors"
)

// StageManifest describes one stage in the run manifest.
type StageManifest struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	DurationMS int64       `json:"duration_ms"`
	RowsIn     int         `json:"rows_in"`
	RowsOut    int         `json:"rows_out"`
	Artifacts  []string    `json:"artifacts,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// RunManifest is the machine-readable record of one pipeline run.
type RunManifest struct {
	RunID      string          `json:"run_id"`
	Status     RunStatus       `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	OutputDir  string          `json:"output_dir"`
	Stages     []StageManifest `json:"stages"`
}

// BuildManifest snapshots the run state into a manifest.
func BuildManifest(state *State) RunManifest {
	manifest := RunManifest{
		RunID:      state.RunID,
		Status:     state.Status,
		StartedAt:  state.StartTime,
		FinishedAt: state.EndTime,
		OutputDir:  state.Config.Paths.OutputDir,
	}
	for _, st := range state.Stages() {
		entry := StageManifest{
			ID:         st.ID,
			Name:       st.Name,
			Status:     st.CurrentStatus(),
			DurationMS: st.Duration().Milliseconds(),
			RowsIn:     st.RowsIn,
			RowsOut:    st.RowsOut,
			Artifacts:  st.Artifacts,
			Message:    st.Message,
		}
		if st.Err != nil {
			entry.Error = st.Err.Error()
		}
		manifest.Stages = append(manifest.Stages, entry)
	}
	sort.Slice(manifest.Stages, func(i, j int) bool {
		return manifest.Stages[i].ID < manifest.Stages[j].ID
	})
	return manifest
}

// Save writes the manifest as indented JSON.
func (m RunManifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("operations", fmt.Sprintf("create output dir for %s", path), err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.NewIO("operations", "encode manifest", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIO("operations", fmt.Sprintf("write %s", path), err)
	}
	return nil
}
