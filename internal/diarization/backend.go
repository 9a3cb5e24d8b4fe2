// Package diarization partitions session audio into speaker-attributed time
// segments. Exactly one backend is bound per session at creation time and
// never switched mid-session: a cloud passthrough when the upstream
// transcription source already labels speakers, a local windowed fallback
// when it does not, or a disabled collapse to a single unknown-speaker
// stream when neither is available.
package diarization

import (
	"context"
	"strings"
	"sync"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/types"
)

// retentionMs bounds how much segment history the passthrough variants keep.
const retentionMs = 60_000

// Backend is the per-session diarization capability.
type Backend interface {
	// Mode reports the effective diarization mode for the session.
	Mode() string
	// Ingest consumes one inbound audio chunk.
	Ingest(c audio.Chunk)
	// Tick drives periodic work (fallback hop scheduling); passthrough
	// variants ignore it.
	Tick(ctx context.Context, nowMs int64)
	// Segments returns a snapshot of the currently active segments.
	Segments() []types.SpeakerSegment
	// Close releases per-session buffers.
	Close()
}

// NormalizeLabel maps diarizer-specific speaker labels ("0", "SPEAKER 1",
// "spk-2") into the one format downstream stages consume ("speaker_0", ...).
func NormalizeLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == types.UnknownSpeaker {
		return types.UnknownSpeaker
	}
	s = strings.TrimPrefix(s, "speaker")
	s = strings.TrimPrefix(s, "spk")
	s = strings.Trim(s, " _-")
	if s == "" {
		return types.UnknownSpeaker
	}
	return "speaker_" + s
}

// Cloud is the passthrough backend: the upstream source already returns
// per-segment speaker labels attached to each chunk.
type Cloud struct {
	mu   sync.Mutex
	segs []types.SpeakerSegment
}

func NewCloud() *Cloud { return &Cloud{} }

func (c *Cloud) Mode() string { return types.DiarizationCloud }

func (c *Cloud) Ingest(chunk audio.Chunk) {
	if len(chunk.Labelled) == 0 {
		return
	}
	c.mu.Lock()
	for _, ls := range chunk.Labelled {
		c.segs = append(c.segs, types.SpeakerSegment{
			StartMs:    ls.StartMs,
			EndMs:      ls.EndMs,
			Label:      NormalizeLabel(ls.Speaker),
			Confidence: ls.Confidence,
		})
	}
	c.segs = prune(c.segs, chunk.TimestampMs+chunk.DurationMs()-retentionMs)
	c.mu.Unlock()
}

func (c *Cloud) Tick(context.Context, int64) {}

func (c *Cloud) Segments() []types.SpeakerSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.segs)
}

func (c *Cloud) Close() {}

// Disabled collapses diarization to a single unknown-speaker stream so the
// session keeps running with session-level aggregates instead of failing.
type Disabled struct {
	mu   sync.Mutex
	segs []types.SpeakerSegment
}

func NewDisabled() *Disabled { return &Disabled{} }

func (d *Disabled) Mode() string { return types.DiarizationDisabled }

func (d *Disabled) Ingest(chunk audio.Chunk) {
	end := chunk.TimestampMs + chunk.DurationMs()
	d.mu.Lock()
	// extend the open unknown-speaker span instead of accumulating one
	// segment per chunk
	if n := len(d.segs); n > 0 && d.segs[n-1].EndMs >= chunk.TimestampMs {
		d.segs[n-1].EndMs = end
	} else {
		d.segs = append(d.segs, types.SpeakerSegment{
			StartMs:    chunk.TimestampMs,
			EndMs:      end,
			Label:      types.UnknownSpeaker,
			Confidence: 0,
		})
	}
	d.segs = prune(d.segs, end-retentionMs)
	d.mu.Unlock()
}

func (d *Disabled) Tick(context.Context, int64) {}

func (d *Disabled) Segments() []types.SpeakerSegment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return snapshot(d.segs)
}

func (d *Disabled) Close() {}

func prune(segs []types.SpeakerSegment, beforeMs int64) []types.SpeakerSegment {
	out := segs[:0]
	for _, s := range segs {
		if s.EndMs > beforeMs {
			out = append(out, s)
		}
	}
	return out
}

func snapshot(segs []types.SpeakerSegment) []types.SpeakerSegment {
	cp := make([]types.SpeakerSegment, len(segs))
	copy(cp, segs)
	return cp
}
