package priority

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpulse/internal/adaptive"
	"calpulse/internal/alignment"
	"calpulse/internal/merge"
)

func testConfig() Config {
	return Config{
		WeightImportance: 5,
		WeightSurprise:   3,
		WeightReturn:     4,
		WeightDominance:  2,
		SurpriseCap:      5.0,
		ReturnCap:        1.5,
		MinSignal:        0.05,
		MinGroupSize:     2,
	}
}

func f(v float64) *float64 { return &v }

func jointEvent(id, name, importance string, surprisePct float64, groupID string) alignment.Event {
	return alignment.Event{
		EventID:     id,
		EventTime:   time.Date(2023, 6, 2, 12, 30, 0, 0, time.UTC),
		EventName:   name,
		Currency:    "USD",
		Importance:  importance,
		SurprisePct: f(surprisePct),
		JointShared: true,
		Joint:       merge.JointMeta{GroupID: groupID, Size: 2},
	}
}

func detailRow(id string, dominantReturn *float64, window int, share float64) adaptive.DetailRow {
	return adaptive.DetailRow{
		EventID:        id,
		DominantReturn: dominantReturn,
		DominantWindow: window,
		DominantShare:  share,
	}
}

func TestScoreJointConflict(t *testing.T) {
	groupID := "2023-06-02T12:30:00Z__cpi|nfp"
	events := []alignment.Event{
		jointEvent("nfp", "Nonfarm Payrolls", "High", 2.0, groupID),
		jointEvent("cpi", "CPI (YoY)", "Medium", -1.0, groupID),
	}
	detail := []adaptive.DetailRow{
		detailRow("nfp", f(0.9), 60, 0.95),
		detailRow("cpi", f(-0.3), 120, 0.80),
	}

	s := NewScorer(testConfig(), nil)
	result, err := s.Score(context.Background(), events, detail)
	require.NoError(t, err)
	require.Len(t, result.Events, 2)

	top := result.Events[0]
	assert.Equal(t, "nfp", top.EventID)
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, DirectionUp, top.Direction)
	// 5*3 + 3*(2/5) + 4*(0.9/1.5) + 2*0.95
	assert.InDelta(t, 15.0+1.2+2.4+1.9, top.Score, 1e-6)

	second := result.Events[1]
	assert.Equal(t, "cpi", second.EventID)
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, DirectionDown, second.Direction)

	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, "joint::"+groupID, g.GroupKey)
	assert.True(t, g.Conflict)
	assert.Equal(t, "nfp", g.TopEventID)
	assert.Equal(t, []string{"nfp", "cpi"}, g.Sequence)
	assert.Contains(t, g.RuleSummary, "Nonfarm Payrolls")
	assert.Contains(t, g.RuleSummary, "directions conflict")
}

func TestScoreSignalFallback(t *testing.T) {
	e := jointEvent("e1", "CPI (YoY)", "High", 1.0, "g")
	e.ReturnPost = map[int]*float64{60: f(0.5)}
	detail := []adaptive.DetailRow{detailRow("e1", nil, 60, 0.5)}

	cfg := testConfig()
	cfg.IncludeSingletons = true
	s := NewScorer(cfg, nil)
	result, err := s.Score(context.Background(), []alignment.Event{e}, detail)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	row := result.Events[0]
	assert.Equal(t, "post_60", row.SignalUsed)
	require.NotNil(t, row.Signal)
	assert.InDelta(t, 0.5, *row.Signal, 1e-9)
}

func TestScoreDirectionThresholds(t *testing.T) {
	s := NewScorer(testConfig(), nil)
	assert.Equal(t, DirectionUp, s.direction(f(0.05)))
	assert.Equal(t, DirectionDown, s.direction(f(-0.06)))
	assert.Equal(t, DirectionFlat, s.direction(f(0.01)))
	assert.Equal(t, DirectionUnknown, s.direction(nil))
}

func TestScoreInnerJoin(t *testing.T) {
	events := []alignment.Event{
		jointEvent("joined", "CPI (YoY)", "High", 1.0, "g"),
		jointEvent("unjoined", "PPI (YoY)", "High", 1.0, "g"),
	}
	detail := []adaptive.DetailRow{detailRow("joined", f(0.5), 60, 1.0)}

	cfg := testConfig()
	cfg.IncludeSingletons = true
	s := NewScorer(cfg, nil)
	result, err := s.Score(context.Background(), events, detail)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "joined", result.Events[0].EventID)
}

func TestScoreSingletonGroupsSkipped(t *testing.T) {
	e := alignment.Event{
		EventID:     "solo",
		EventTime:   time.Date(2023, 6, 2, 14, 0, 0, 0, time.UTC),
		EventName:   "Retail Sales (MoM)",
		Currency:    "USD",
		Importance:  "Medium",
		SurprisePct: f(0.5),
	}
	detail := []adaptive.DetailRow{detailRow("solo", f(0.2), 60, 1.0)}

	s := NewScorer(testConfig(), nil)
	result, err := s.Score(context.Background(), []alignment.Event{e}, detail)
	require.NoError(t, err)

	assert.Equal(t, "event::solo", result.Events[0].GroupKey)
	assert.Empty(t, result.Groups)
}

func TestScoreSurpriseCap(t *testing.T) {
	e := jointEvent("e1", "CPI (YoY)", "High", 50.0, "g")
	detail := []adaptive.DetailRow{detailRow("e1", f(10.0), 60, 1.0)}

	cfg := testConfig()
	cfg.IncludeSingletons = true
	s := NewScorer(cfg, nil)
	result, err := s.Score(context.Background(), []alignment.Event{e}, detail)
	require.NoError(t, err)

	// Both the surprise and the return are capped, so the score is the
	// weight sum with importance at its full 3x multiplier.
	assert.InDelta(t, 5*3+3+4+2, result.Events[0].Score, 1e-6)
}

func TestScoreImportanceDominatesCappedTerms(t *testing.T) {
	groupID := "2023-06-02T12:30:00Z__gdp|ppi"
	quiet := jointEvent("gdp", "GDP (QoQ)", "High", 0.0, groupID)
	noisy := jointEvent("ppi", "PPI (MoM)", "Low", 50.0, groupID)
	detail := []adaptive.DetailRow{
		detailRow("gdp", f(0.0), 60, 0.2),
		detailRow("ppi", f(10.0), 60, 1.0),
	}

	s := NewScorer(testConfig(), nil)
	result, err := s.Score(context.Background(),
		[]alignment.Event{quiet, noisy}, detail)
	require.NoError(t, err)
	require.Len(t, result.Events, 2)

	// High importance alone (5*3 + 2*0.2 = 15.4) outweighs a Low event
	// saturating both caps (5*1 + 3 + 4 + 2 = 14).
	top := result.Events[0]
	assert.Equal(t, "gdp", top.EventID)
	assert.Equal(t, 1, top.Rank)
	assert.InDelta(t, 15.4, top.Score, 1e-6)
	assert.InDelta(t, 14.0, result.Events[1].Score, 1e-6)
}

func TestScoreConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.ReturnCap = 0

	s := NewScorer(cfg, nil)
	_, err := s.Score(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestSaveArtifacts(t *testing.T) {
	groupID := "2023-06-02T12:30:00Z__a|b"
	events := []alignment.Event{
		jointEvent("a", "CPI (YoY)", "High", 1.0, groupID),
		jointEvent("b", "Core CPI (MoM)", "Medium", -1.0, groupID),
	}
	detail := []adaptive.DetailRow{
		detailRow("a", f(0.5), 60, 1.0),
		detailRow("b", f(-0.5), 60, 1.0),
	}

	s := NewScorer(testConfig(), nil)
	result, err := s.Score(context.Background(), events, detail)
	require.NoError(t, err)

	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	groupsPath := filepath.Join(dir, "groups.csv")
	rulesPath := filepath.Join(dir, "rules.json")

	require.NoError(t, SaveEventsCSV(result.Events, eventsPath))
	require.NoError(t, SaveGroupsCSV(result.Groups, groupsPath))
	require.NoError(t, SaveRulesJSON(s.BuildRules(result, "run-1"), rulesPath))

	data, err := os.ReadFile(eventsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "priority_score")

	data, err = os.ReadFile(rulesPath)
	require.NoError(t, err)
	var rules Rules
	require.NoError(t, json.Unmarshal(data, &rules))
	assert.Equal(t, "run-1", rules.RunID)
	assert.Equal(t, 2, rules.Events)
	assert.Equal(t, 1, rules.Conflicts)
	assert.InDelta(t, 1.5, rules.Config.ReturnCap, 1e-9)
}
