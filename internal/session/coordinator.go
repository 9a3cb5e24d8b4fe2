// Package session owns live coaching sessions: one coordinator per session
// fans inbound audio into the diarization/identification pipeline and fans
// nudges and state out to connected participants.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/coaching"
	"github.com/attuneapp/voice-coach/internal/diarization"
	"github.com/attuneapp/voice-coach/internal/identify"
	"github.com/attuneapp/voice-coach/internal/types"
)

var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrNotParticipant = errors.New("user is not a session participant")
)

// Event is the outbound envelope delivered to connected participants.
type Event struct {
	Type    string      `json:"type"` // session_state | nudge | error
	Payload interface{} `json:"payload"`
}

// SessionState is the payload of session_state events.
type SessionState struct {
	SessionID       string   `json:"session_id"`
	ParticipantIDs  []string `json:"participant_ids"`
	Status          string   `json:"status"`
	DiarizationMode string   `json:"diarization_mode"`
}

// NudgeLog persists emitted nudges; persistence failures never block delivery.
type NudgeLog interface {
	SaveNudge(n types.Nudge) error
}

// Coordinator owns one session's state for its lifetime. A single ingest
// goroutine consumes audio chunks and feature frames and drives the hop
// timer, so the rule engine and rate limiter run synchronously in the frame
// path and nudges reach a given user in frame-timestamp order.
type Coordinator struct {
	sess    types.Session
	backend diarization.Backend
	ident   *identify.Identifier
	engine  *coaching.Engine
	limiter *coaching.RateLimiter
	nudges  NudgeLog

	hop    time.Duration
	cancel context.CancelFunc
	chunks chan audio.Chunk
	frames chan types.FeatureFrame
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	outbound   map[string]chan Event
	labelUsers map[string]string // window-local label -> identified user
	windowSeq  uint64            // newest window whose identification has started
	monoUser   string
	monoSince  int64
	lastTsMs   int64
}

func newCoordinator(sess types.Session, backend diarization.Backend, ident *identify.Identifier,
	engine *coaching.Engine, limiter *coaching.RateLimiter, nudges NudgeLog, hop time.Duration) *Coordinator {
	c := &Coordinator{
		sess:       sess,
		backend:    backend,
		ident:      ident,
		engine:     engine,
		limiter:    limiter,
		nudges:     nudges,
		hop:        hop,
		chunks:     make(chan audio.Chunk, 256),
		frames:     make(chan types.FeatureFrame, 64),
		done:       make(chan struct{}),
		outbound:   make(map[string]chan Event),
		labelUsers: make(map[string]string),
	}

	// label stabilization across windows comes only from identification,
	// never from trusting label continuity
	if fb, ok := backend.(*diarization.Fallback); ok && ident != nil {
		fb.OnWindow = c.identifyWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c
}

// Session returns a snapshot of the session record.
func (c *Coordinator) Session() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// IngestAudio hands one inbound chunk to the ingest goroutine. It never
// runs inference inline and returns promptly even while inference is slow.
func (c *Coordinator) IngestAudio(chunk audio.Chunk) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	select {
	case c.chunks <- chunk:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// IngestFrame accepts a pre-computed feature frame from the upstream source.
func (c *Coordinator) IngestFrame(f types.FeatureFrame) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	select {
	case c.frames <- f:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// Attach registers a participant's outbound stream. A reconnect replaces
// the prior connection. Detaching (or dropping the socket) never finalizes
// the session; other participants may still be connected.
func (c *Coordinator) Attach(userID string) (<-chan Event, func(), error) {
	if !c.isParticipant(userID) {
		return nil, nil, ErrNotParticipant
	}

	ch := make(chan Event, 16)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	if old, ok := c.outbound[userID]; ok {
		close(old)
	}
	c.outbound[userID] = ch
	c.mu.Unlock()

	c.broadcastState()

	detach := func() {
		c.mu.Lock()
		if cur, ok := c.outbound[userID]; ok && cur == ch {
			delete(c.outbound, userID)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, detach, nil
}

// Finalize cancels the hop timer and any in-flight inference without
// waiting, releases the ring buffer and this session's rate-limit entries,
// and closes participant streams.
func (c *Coordinator) Finalize() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.sess.Status = types.StatusFinalizing
	c.mu.Unlock()

	c.cancel()
	<-c.done

	c.backend.Close()
	c.limiter.ReleaseSession(c.sess.ID)

	c.mu.Lock()
	for id, ch := range c.outbound {
		close(ch)
		delete(c.outbound, id)
	}
	c.sess.Status = types.StatusClosed
	c.mu.Unlock()
}

func (c *Coordinator) isParticipant(userID string) bool {
	for _, id := range c.sess.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.hop)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-c.chunks:
			c.backend.Ingest(chunk)
			c.advanceClock(chunk.TimestampMs + chunk.DurationMs())
		case f := <-c.frames:
			c.advanceClock(f.TimestampMs)
			c.process(c.enrich(f))
		case <-ticker.C:
			nowMs := c.clock()
			if nowMs == 0 {
				continue // no audio yet
			}
			c.backend.Tick(ctx, nowMs)
			c.process(c.enrich(types.FeatureFrame{TimestampMs: nowMs}))
		}
	}
}

func (c *Coordinator) advanceClock(tsMs int64) {
	c.mu.Lock()
	if tsMs > c.lastTsMs {
		c.lastTsMs = tsMs
	}
	c.mu.Unlock()
}

func (c *Coordinator) clock() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTsMs
}

// identifyWindow maps each window-local speaker label to an enrolled user.
// It runs on the fallback's inference goroutine after a window is applied,
// off the ingest path. Labels are window-local, so identification for a
// superseded window must never overwrite the newer window's mapping: a
// stale call is discarded on entry, and each per-label write re-checks the
// sequence in case a newer window started while this one was embedding.
func (c *Coordinator) identifyWindow(seq uint64, window []int16, startMs int64, segs []types.SpeakerSegment) {
	c.mu.Lock()
	if seq <= c.windowSeq {
		c.mu.Unlock()
		return
	}
	c.windowSeq = seq
	c.mu.Unlock()

	labelClips := make(map[string][]int16)
	for _, s := range segs {
		from := int((s.StartMs - startMs) * audio.TargetSampleRate / 1000)
		to := int((s.EndMs - startMs) * audio.TargetSampleRate / 1000)
		if from < 0 {
			from = 0
		}
		if to > len(window) {
			to = len(window)
		}
		if to <= from {
			continue
		}
		labelClips[s.Label] = append(labelClips[s.Label], window[from:to]...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for label, clip := range labelClips {
		res := c.ident.Identify(ctx, clip, c.sess.ParticipantIDs)
		c.mu.Lock()
		if seq != c.windowSeq {
			c.mu.Unlock()
			return
		}
		if res.CandidateUserID != "" {
			c.labelUsers[label] = res.CandidateUserID
		} else {
			delete(c.labelUsers, label)
		}
		c.mu.Unlock()
	}
}

// enrich derives overlap ratio, attribution and monologue span for a frame
// from the current diarization state. Client-supplied fields win when set.
func (c *Coordinator) enrich(f types.FeatureFrame) types.FeatureFrame {
	segs := c.backend.Segments()

	if f.OverlapRatio == 0 {
		f.OverlapRatio = overlapRatio(segs, f.TimestampMs-c.hop.Milliseconds(), f.TimestampMs)
	}

	if f.AttributedUserID == "" {
		if label := dominantLabel(segs, f.TimestampMs); label != "" && label != types.UnknownSpeaker {
			c.mu.Lock()
			f.AttributedUserID = c.labelUsers[label]
			c.mu.Unlock()
		}
	}

	// monologue tracking: consecutive attribution to the same user
	c.mu.Lock()
	if f.AttributedUserID == "" || f.AttributedUserID != c.monoUser {
		c.monoUser = f.AttributedUserID
		c.monoSince = f.TimestampMs
	}
	if c.monoUser != "" {
		f.MonologueMs = f.TimestampMs - c.monoSince
	}
	c.mu.Unlock()

	return f
}

// process evaluates one frame and delivers any allowed nudges. Running
// inside the single ingest goroutine preserves per-user timestamp order.
func (c *Coordinator) process(f types.FeatureFrame) {
	for _, n := range c.engine.Evaluate(c.sess.ID, f) {
		targets := []string{n.TargetUserID}
		if n.TargetUserID == "" {
			// no attribution (diarization degraded): session-level nudge
			// to every participant rather than none
			targets = c.sess.ParticipantIDs
		}
		for _, target := range targets {
			if !c.limiter.Allow(c.sess.ID, target) {
				continue // silent drop, at most one per cooldown window
			}
			nudge := n
			nudge.TargetUserID = target
			if c.nudges != nil {
				if err := c.nudges.SaveNudge(nudge); err != nil {
					log.Printf("session %s: nudge history write failed: %v", c.sess.ID, err)
				}
			}
			c.deliver(target, Event{Type: "nudge", Payload: nudge})
		}
	}
}

// deliver sends an event to one participant, dropping it when the client's
// buffer is full so a slow client cannot stall the pipeline. The send holds
// c.mu: detach closes outbound channels under the same lock, and a send
// after the snapshot would race the close. The send never blocks, so the
// lock is held only for the channel operation.
func (c *Coordinator) deliver(userID string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.outbound[userID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		log.Printf("session %s: dropped %s event for slow client %s", c.sess.ID, ev.Type, userID)
	}
}

func (c *Coordinator) broadcastState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := SessionState{
		SessionID:       c.sess.ID,
		ParticipantIDs:  c.sess.ParticipantIDs,
		Status:          c.sess.Status,
		DiarizationMode: c.backend.Mode(),
	}
	for id, ch := range c.outbound {
		select {
		case ch <- Event{Type: "session_state", Payload: state}:
		default:
			log.Printf("session %s: dropped session_state for slow client %s", c.sess.ID, id)
		}
	}
}

// overlapRatio is the fraction of [fromMs, toMs) where at least two distinct
// speaker labels are active, sampled at 10ms resolution.
func overlapRatio(segs []types.SpeakerSegment, fromMs, toMs int64) float64 {
	if toMs <= fromMs || len(segs) < 2 {
		return 0
	}
	var total, overlapped int
	for t := fromMs; t < toMs; t += 10 {
		total++
		labels := map[string]bool{}
		for _, s := range segs {
			if s.StartMs <= t && t < s.EndMs {
				labels[s.Label] = true
			}
		}
		if len(labels) >= 2 {
			overlapped++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(overlapped) / float64(total)
}

// dominantLabel is the label active at tMs; on a tie between concurrently
// active labels the one covering more of the instant's segment wins.
func dominantLabel(segs []types.SpeakerSegment, tMs int64) string {
	var best string
	var bestSpan int64 = -1
	for _, s := range segs {
		if s.StartMs <= tMs && tMs < s.EndMs {
			if span := s.EndMs - s.StartMs; span > bestSpan {
				bestSpan = span
				best = s.Label
			}
		}
	}
	return best
}
