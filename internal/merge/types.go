// Package merge builds the minute-level dataset joining price bars with
// expanded economic event windows.
package merge

import (
	"time"

	"calpulse/internal/calendar"
)

// Stage labels for a minute relative to its event.
const (
	StagePre  = "pre"
	StageAt   = "at"
	StagePost = "post"
)

// JointMeta describes the group of events sharing one event minute.
// Size 1 means the event fired alone.
type JointMeta struct {
	GroupID    string  `json:"joint_group_id"`
	Size       int     `json:"joint_group_size"`
	Rank       int     `json:"joint_group_rank"`
	Weight     float64 `json:"joint_group_weight"`
	EventIDs   string  `json:"joint_event_ids"`
	EventNames string  `json:"joint_event_names"`
}

// Row is one output minute. When HasEvent is false the event fields are
// zero values; a price minute inside the windows of several events
// repeats once per event.
type Row struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	HasEvent   bool
	EventCount int

	EventID          string
	EventTime        time.Time
	EventName        string
	Currency         string
	Importance       string
	EventStage       string
	MinutesFromEvent int

	Actual    *float64
	Forecast  *float64
	Previous  *float64
	IsPercent bool

	Joint JointMeta
}

// Dataset is the merged output of one run.
type Dataset struct {
	Rows []Row
	// Releases are the filtered calendar releases that contributed rows,
	// keyed by event ID.
	Releases map[string]calendar.Release
}

// Config holds the merge stage parameters.
type Config struct {
	PreWindowMinutes  int
	PostWindowMinutes int
	Currencies        []string
	Importance        []string
}
