package diarization

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/types"
)

// Inferencer is the black-box diarization model behind the fallback
// backend. Segments are returned relative to the start of the given window.
type Inferencer interface {
	Infer(ctx context.Context, window []int16, maxSpeakers int) ([]types.SpeakerSegment, error)
	Ready() bool
}

// WindowConfig holds the fallback windowing discipline.
type WindowConfig struct {
	WindowS     float64
	HopS        float64
	Timeout     time.Duration
	MaxSpeakers int
}

// Fallback runs local rolling-window diarization:
//
//	IDLE -> WINDOW_READY -> INFERRING -> (SUCCEEDED | TIMED_OUT) -> IDLE
//
// Audio chunks append continuously to a per-session ring buffer. Each Tick,
// if a full window is buffered and no inference is in flight, the current
// window is submitted. At most one inference runs at a time; a tick that
// fires while INFERRING is dropped, not queued. A timed-out or superseded
// window's output is discarded and the previous window's segments stay
// active (last-known-good). Successful windows replace prior segments whose
// range falls inside the new window; the older tail is retained.
type Fallback struct {
	infer       Inferencer
	ring        *audio.RingBuffer
	windowN     int
	timeout     time.Duration
	maxSpeakers int

	// OnWindow, when set, is invoked after each successfully applied window
	// with the window's sequence number, its audio, its start timestamp and
	// the applied segments. Invoked outside the state lock; consumers use
	// seq to discard results from superseded windows, since a slow callback
	// for window N may still be running when window N+1 is applied.
	OnWindow func(seq uint64, window []int16, startMs int64, segs []types.SpeakerSegment)

	mu          sync.Mutex
	inflight    bool
	nextSeq     uint64
	appliedSeq  uint64
	staleBefore uint64 // results with seq below this are superseded
	segments    []types.SpeakerSegment
}

// NewFallback creates a fallback backend. Returns the backend even when the
// inferencer is not ready; callers use Ready to decide whether to bind it.
func NewFallback(infer Inferencer, cfg WindowConfig) *Fallback {
	return &Fallback{
		infer:       infer,
		ring:        audio.NewRingBuffer(cfg.WindowS),
		windowN:     int(cfg.WindowS * audio.TargetSampleRate),
		timeout:     cfg.Timeout,
		maxSpeakers: cfg.MaxSpeakers,
	}
}

// Ready reports whether the underlying model is available.
func (f *Fallback) Ready() bool { return f.infer != nil && f.infer.Ready() }

func (f *Fallback) Mode() string { return types.DiarizationFallback }

// Ingest appends chunk audio to the rolling window buffer. Never blocks on
// inference.
func (f *Fallback) Ingest(c audio.Chunk) { f.ring.Append(c) }

// Tick is the hop scheduler entry point, driven by the session coordinator.
func (f *Fallback) Tick(ctx context.Context, nowMs int64) {
	f.mu.Lock()
	if f.inflight || !f.ring.Full() {
		// still INFERRING: drop this hop rather than queueing a backlog
		f.mu.Unlock()
		return
	}
	window, startMs := f.ring.Window(f.windowN)
	f.nextSeq++
	seq := f.nextSeq
	f.inflight = true
	f.mu.Unlock()

	go f.run(ctx, seq, window, startMs)
}

func (f *Fallback) run(ctx context.Context, seq uint64, window []int16, startMs int64) {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		segs []types.SpeakerSegment
		err  error
	}
	done := make(chan result, 1)
	go func() {
		segs, err := f.infer.Infer(tctx, window, f.maxSpeakers)
		done <- result{segs, err}
	}()

	select {
	case r := <-done:
		f.mu.Lock()
		f.inflight = false
		f.mu.Unlock()
		if r.err != nil {
			// soft failure: previous window's segments stay active
			log.Printf("diarization: window %d inference failed: %v", seq, r.err)
			return
		}
		f.apply(seq, window, startMs, r.segs)
	case <-tctx.Done():
		f.mu.Lock()
		f.inflight = false
		if seq >= f.staleBefore {
			f.staleBefore = seq + 1
		}
		f.mu.Unlock()
		log.Printf("diarization: window %d timed out after %s, keeping last-known-good segments", seq, f.timeout)
	}
}

// apply installs a window result unless a newer window already superseded it.
func (f *Fallback) apply(seq uint64, window []int16, startMs int64, rel []types.SpeakerSegment) {
	abs := make([]types.SpeakerSegment, 0, len(rel))
	for _, s := range rel {
		abs = append(abs, types.SpeakerSegment{
			StartMs:    startMs + s.StartMs,
			EndMs:      startMs + s.EndMs,
			Label:      NormalizeLabel(s.Label),
			Confidence: s.Confidence,
		})
	}

	f.mu.Lock()
	if seq <= f.appliedSeq || seq < f.staleBefore {
		f.mu.Unlock()
		return
	}
	// retain only the older tail outside the new window, then install the
	// new window's segments for the covered range
	kept := f.segments[:0]
	for _, s := range f.segments {
		if s.EndMs <= startMs {
			kept = append(kept, s)
		}
	}
	f.segments = append(kept, abs...)
	f.appliedSeq = seq
	onWindow := f.OnWindow
	f.mu.Unlock()

	if onWindow != nil {
		onWindow(seq, window, startMs, abs)
	}
}

func (f *Fallback) Segments() []types.SpeakerSegment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return snapshot(f.segments)
}

// Close releases the ring buffer. In-flight inference is abandoned via the
// session context; its result can no longer be applied once staleBefore
// passes it.
func (f *Fallback) Close() {
	f.mu.Lock()
	f.staleBefore = f.nextSeq + 1
	f.mu.Unlock()
	f.ring.Release()
}
