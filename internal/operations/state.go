package operations

import (
	"log/slog"
	"sync"
	"time"

	"calpulse/internal/adaptive"
	"calpulse/internal/alignment"
	"calpulse/internal/config"
	"calpulse/internal/infrastructure"
	"calpulse/internal/merge"
)

// RunStatus is the overall pipeline status.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// State is the shared state of one pipeline run. Stages read their
// inputs and publish their outputs through it; access is serialized so
// the parallel fan-out can share it safely.
type State struct {
	mu sync.RWMutex

	RunID     string
	Status    RunStatus
	StartTime time.Time
	EndTime   *time.Time

	Config  *config.Config
	Logger  *slog.Logger
	Metrics *infrastructure.RunMetrics

	stages map[string]*StageState

	dataset        *merge.Dataset
	aligned        []alignment.Event
	adaptiveResult *adaptive.Result
}

// NewState creates a pending run state.
func NewState(runID string, cfg *config.Config, logger *slog.Logger, metrics *infrastructure.RunMetrics) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		RunID:     runID,
		Status:    RunStatusPending,
		StartTime: time.Now(),
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		stages:    map[string]*StageState{},
	}
}

// Start marks the run as running.
func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = RunStatusRunning
	s.StartTime = time.Now()
}

// Complete marks the run as completed.
func (s *State) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusCompleted
}

// Fail marks the run as failed.
func (s *State) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusFailed
}

// Cancel marks the run as cancelled.
func (s *State) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusCancelled
}

// StageState returns (and lazily creates) the state for one stage.
func (s *State) StageState(id, name string) *StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stages[id]; ok {
		return st
	}
	st := NewStageState(id, name)
	s.stages[id] = st
	return st
}

// Stages returns a snapshot of the stage states.
func (s *State) Stages() map[string]*StageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*StageState, len(s.stages))
	for id, st := range s.stages {
		out[id] = st
	}
	return out
}

// SetDataset publishes the merged dataset.
func (s *State) SetDataset(d *merge.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = d
}

// Dataset returns the merged dataset, nil before the merge stage ran.
func (s *State) Dataset() *merge.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// SetAligned publishes the aligned events.
func (s *State) SetAligned(events []alignment.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aligned = events
}

// Aligned returns the aligned events.
func (s *State) Aligned() []alignment.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aligned
}

// SetAdaptiveResult publishes the adaptive window analysis.
func (s *State) SetAdaptiveResult(r *adaptive.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptiveResult = r
}

// AdaptiveResult returns the adaptive window analysis.
func (s *State) AdaptiveResult() *adaptive.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adaptiveResult
}
