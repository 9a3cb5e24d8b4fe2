package types

import "time"

// Session status constants
const (
	StatusActive     = "active"
	StatusFinalizing = "finalizing"
	StatusClosed     = "closed"
)

// Diarization mode constants
const (
	DiarizationCloud    = "cloud"
	DiarizationFallback = "fallback"
	DiarizationDisabled = "disabled"
)

// LanguageAuto is the language mode for which cloud diarization is unavailable.
const LanguageAuto = "auto"

// Nudge type constants
const (
	NudgeSlowDown      = "slow_down"
	NudgeReduceOverlap = "reduce_overlap"
	NudgeTakeTurn      = "take_turn"
)

// UnknownSpeaker is the local label used when diarization is disabled.
const UnknownSpeaker = "unknown"

// Session is one active coaching session. It is owned exclusively by its
// coordinator for its lifetime; state is discarded on finalize.
type Session struct {
	ID              string    `json:"id"`
	ParticipantIDs  []string  `json:"participant_ids"`
	LanguageMode    string    `json:"language_mode"`
	DiarizationMode string    `json:"diarization_mode"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// SpeakerSegment is one diarized span of audio. Labels are diarizer-local
// per window ("speaker_0", "speaker_1", ...), not user ids, and are not
// stable across windows.
type SpeakerSegment struct {
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Label      string  `json:"local_speaker_label"`
	Confidence float64 `json:"confidence"`
}

// EnrollmentProfile is a user's active voice profile. One per user; a new
// enrollment replaces the prior profile atomically.
type EnrollmentProfile struct {
	ProfileID    string    `json:"profile_id"`
	UserID       string    `json:"user_id"`
	Embedding    []float64 `json:"-"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentificationResult is always produced, never a hard failure: a null
// candidate with the raw score preserved when no profile clears the
// threshold, and score 0 when the embedding service is unavailable.
type IdentificationResult struct {
	Label           string  `json:"local_speaker_label,omitempty"`
	CandidateUserID string  `json:"candidate_user_id"` // empty = unknown speaker
	Similarity      float64 `json:"similarity_score"`
}

// FeatureFrame is a per-interval summary derived from recent audio and
// diarization state. OverlapRatio requires at least two concurrently
// active speaker segments; MonologueMs is how long the attributed user
// has held the floor without interruption.
type FeatureFrame struct {
	TimestampMs      int64   `json:"timestamp_ms"`
	SpeakingRate     float64 `json:"speaking_rate"`
	OverlapRatio     float64 `json:"overlap_ratio"`
	AttributedUserID string  `json:"attributed_user_id,omitempty"`
	MonologueMs      int64   `json:"monologue_ms,omitempty"`
}

// Nudge is a real-time behavioral suggestion. Emitted, never mutated;
// delivery is fire-and-forget, at most once per rate-limit window.
type Nudge struct {
	SessionID    string `json:"session_id"`
	TargetUserID string `json:"target_user_id"`
	Type         string `json:"nudge_type"`
	Message      string `json:"message"`
	TimestampMs  int64  `json:"timestamp_ms"`
}
