package diarization

import (
	"log"

	"github.com/attuneapp/voice-coach/internal/types"
)

// Select binds exactly one backend for a session's lifetime.
//
// Cloud diarization is unavailable for language mode "auto", so that mode
// forces fallback (or disabled when the fallback model is unavailable)
// regardless of the configured preference. Otherwise the configured mode is
// honored. A session never switches backends mid-session, and never fails
// because neither model is available: it degrades to a single
// unknown-speaker stream instead.
//
// newFallback constructs the per-session fallback backend; it is only
// invoked when fallback is the effective choice.
func Select(languageMode, configuredMode string, newFallback func() *Fallback) Backend {
	mode := configuredMode
	if languageMode == types.LanguageAuto && mode != types.DiarizationDisabled {
		mode = types.DiarizationFallback
	}

	switch mode {
	case types.DiarizationCloud:
		return NewCloud()
	case types.DiarizationFallback:
		if newFallback != nil {
			if fb := newFallback(); fb != nil && fb.Ready() {
				return fb
			}
		}
		log.Printf("diarization: fallback model unavailable, session runs with diarization disabled")
		return NewDisabled()
	default:
		return NewDisabled()
	}
}
