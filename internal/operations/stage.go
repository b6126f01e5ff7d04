// Package operations wires the analysis stages into a pipeline run:
// merge and alignment first, the independent analysis stages fanned out
// in parallel, then the stages that consume the adaptive detail.
package operations

import (
	"context"
	"sync"
	"time"
)

// Stage is one unit of pipeline work.
type Stage interface {
	// ID returns the unique identifier for this stage.
	ID() string

	// Name returns the human-readable name for this stage.
	Name() string

	// Run executes the stage against the shared run state.
	Run(ctx context.Context, state *State) error

	// Validate checks the stage preconditions against the state.
	Validate(state *State) error

	// Dependencies returns the IDs of stages that must complete first.
	Dependencies() []string
}

// StageStatus is the lifecycle status of a stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageState is the runtime state of one stage.
type StageState struct {
	mu sync.RWMutex

	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	RowsIn    int      `json:"rows_in"`
	RowsOut   int      `json:"rows_out"`
	Artifacts []string `json:"artifacts,omitempty"`
	Message   string   `json:"message,omitempty"`

	Err error `json:"-"`
}

// NewStageState creates a pending stage state.
func NewStageState(id, name string) *StageState {
	return &StageState{ID: id, Name: name, Status: StageStatusPending}
}

// Start marks the stage active.
func (s *StageState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = &now
	s.Status = StageStatusActive
}

// Complete marks the stage completed.
func (s *StageState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusCompleted
}

// Fail marks the stage failed.
func (s *StageState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusFailed
	s.Err = err
}

// Skip marks the stage skipped with a reason.
func (s *StageState) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusSkipped
	s.Message = reason
}

// SetRows records the row counts flowing through the stage.
func (s *StageState) SetRows(in, out int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RowsIn = in
	s.RowsOut = out
}

// AddArtifact records one produced artifact path.
func (s *StageState) AddArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Artifacts = append(s.Artifacts, path)
}

// Duration returns the elapsed stage time, zero while pending.
func (s *StageState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.StartTime == nil {
		return 0
	}
	end := time.Now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(*s.StartTime)
}

// CurrentStatus returns the status under the lock.
func (s *StageState) CurrentStatus() StageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}
