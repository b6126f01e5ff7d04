package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		expected string
	}{
		{
			name:     "with stage",
			err:      NewInput("merge", "calendar file missing", os.ErrNotExist),
			expected: "[input] merge: calendar file missing",
		},
		{
			name:     "without stage",
			err:      NewConfig("", "pre window must be positive"),
			expected: "[config] pre window must be positive",
		},
		{
			name:     "nil receiver",
			err:      nil,
			expected: "unknown pipeline error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := os.ErrNotExist
	err := NewInput("alignment", "merged dataset missing", cause)

	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestPipelineError_IsMatchesOnType(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", NewEmpty("merge", "no events in any year"))

	assert.True(t, errors.Is(err, NewEmpty("", "")))
	assert.False(t, errors.Is(err, NewConfig("", "")))
	assert.True(t, IsEmpty(err))
}

func TestPipelineError_Retryable(t *testing.T) {
	assert.True(t, NewIO("deepdive", "write heatmap", os.ErrPermission).Retryable())
	assert.False(t, NewSchema("prices", "bad header", nil).Retryable())
	assert.False(t, NewCompute("prototype", "kmeans failed", nil).Retryable())
}

func TestPipelineError_WithContext(t *testing.T) {
	err := NewInput("merge", "calendar year missing", nil).
		WithContext("year", 2024).
		WithContext("path", "data/2024/2024_calendar.json")

	require.NotNil(t, err.Context)
	assert.Equal(t, 2024, err.Context["year"])
	assert.Equal(t, "data/2024/2024_calendar.json", err.Context["path"])
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeCancelled, TypeOf(NewCancelled("trend", nil)))
	assert.Equal(t, Type(""), TypeOf(errors.New("plain")))
	assert.Equal(t, Type(""), TypeOf(nil))
}
