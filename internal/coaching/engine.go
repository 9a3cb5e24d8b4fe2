// Package coaching turns feature frames into behavioral nudges and
// rate-limits their delivery.
package coaching

import (
	"github.com/attuneapp/voice-coach/internal/types"
)

// Thresholds configure the rule set. Values are configuration, not
// hardcoded: they arrive from the config surface.
type Thresholds struct {
	SpeakingRate float64 // words/sec above which slow_down fires
	OverlapRatio float64 // overlap fraction above which reduce_overlap fires
	MonologueMs  int64   // consecutive floor-holding above which take_turn fires
}

var messages = map[string]string{
	types.NudgeSlowDown:      "You're speaking quickly. Try slowing down a bit.",
	types.NudgeReduceOverlap: "You're talking over each other. Leave space to finish.",
	types.NudgeTakeTurn:      "You've had the floor for a while. Invite your partner in.",
}

// Engine evaluates each frame independently; it holds no history beyond
// what the rate limiter enforces, keeping the rule set simple and auditable.
type Engine struct {
	t Thresholds
}

// NewEngine creates a rule engine with the given thresholds.
func NewEngine(t Thresholds) *Engine { return &Engine{t: t} }

// Evaluate applies every rule to one frame. Multiple rules may match and
// produce multiple nudges; no ordering is imposed between types for the
// same frame. Frames without an attributed user can only produce
// session-level overlap nudges targeted at all participants by the caller.
func (e *Engine) Evaluate(sessionID string, f types.FeatureFrame) []types.Nudge {
	var out []types.Nudge

	if f.SpeakingRate > e.t.SpeakingRate {
		out = append(out, e.nudge(sessionID, f, types.NudgeSlowDown))
	}
	if f.OverlapRatio > e.t.OverlapRatio {
		out = append(out, e.nudge(sessionID, f, types.NudgeReduceOverlap))
	}
	if e.t.MonologueMs > 0 && f.MonologueMs > e.t.MonologueMs {
		out = append(out, e.nudge(sessionID, f, types.NudgeTakeTurn))
	}
	return out
}

func (e *Engine) nudge(sessionID string, f types.FeatureFrame, nudgeType string) types.Nudge {
	return types.Nudge{
		SessionID:    sessionID,
		TargetUserID: f.AttributedUserID,
		Type:         nudgeType,
		Message:      messages[nudgeType],
		TimestampMs:  f.TimestampMs,
	}
}
