package coaching

import (
	"testing"

	"github.com/attuneapp/voice-coach/internal/types"
)

func testEngine() *Engine {
	return NewEngine(Thresholds{
		SpeakingRate: 3.0,
		OverlapRatio: 0.3,
		MonologueMs:  45_000,
	})
}

func TestEvaluate_SpeakingRateAboveThreshold(t *testing.T) {
	nudges := testEngine().Evaluate("s1", types.FeatureFrame{
		TimestampMs:      1000,
		SpeakingRate:     3.5,
		AttributedUserID: "user-a",
	})
	if len(nudges) != 1 {
		t.Fatalf("expected exactly one nudge, got %d: %+v", len(nudges), nudges)
	}
	n := nudges[0]
	if n.Type != types.NudgeSlowDown || n.TargetUserID != "user-a" || n.SessionID != "s1" || n.TimestampMs != 1000 {
		t.Fatalf("unexpected nudge: %+v", n)
	}
	if n.Message == "" {
		t.Fatal("nudge must carry a message")
	}
}

func TestEvaluate_BothThresholdsProduceTwoNudges(t *testing.T) {
	nudges := testEngine().Evaluate("s1", types.FeatureFrame{
		SpeakingRate:     4.0,
		OverlapRatio:     0.5,
		AttributedUserID: "user-a",
	})
	if len(nudges) != 2 {
		t.Fatalf("expected two nudges, got %d: %+v", len(nudges), nudges)
	}
	seen := map[string]bool{}
	for _, n := range nudges {
		seen[n.Type] = true
	}
	if !seen[types.NudgeSlowDown] || !seen[types.NudgeReduceOverlap] {
		t.Fatalf("expected slow_down and reduce_overlap, got %+v", seen)
	}
}

func TestEvaluate_AtThresholdIsQuiet(t *testing.T) {
	nudges := testEngine().Evaluate("s1", types.FeatureFrame{
		SpeakingRate: 3.0,
		OverlapRatio: 0.3,
	})
	if len(nudges) != 0 {
		t.Fatalf("values at threshold must not nudge, got %+v", nudges)
	}
}

func TestEvaluate_MonologueProducesTakeTurn(t *testing.T) {
	nudges := testEngine().Evaluate("s1", types.FeatureFrame{
		AttributedUserID: "user-b",
		MonologueMs:      50_000,
	})
	if len(nudges) != 1 || nudges[0].Type != types.NudgeTakeTurn {
		t.Fatalf("expected take_turn, got %+v", nudges)
	}
}
