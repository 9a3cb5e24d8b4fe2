package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/coaching"
	"github.com/attuneapp/voice-coach/internal/diarization"
	"github.com/attuneapp/voice-coach/internal/identify"
	"github.com/attuneapp/voice-coach/internal/types"
)

// halfSplitInferencer labels the first half of every window speaker 0 and
// the second half speaker 1.
type halfSplitInferencer struct {
	calls int32
	ready bool
}

func (h *halfSplitInferencer) Ready() bool { return h.ready }

func (h *halfSplitInferencer) Infer(ctx context.Context, window []int16, maxSpeakers int) ([]types.SpeakerSegment, error) {
	atomic.AddInt32(&h.calls, 1)
	mid := int64(len(window)) * 1000 / audio.TargetSampleRate / 2
	return []types.SpeakerSegment{
		{StartMs: 0, EndMs: mid, Label: "0", Confidence: 0.9},
		{StartMs: mid, EndMs: mid * 2, Label: "1", Confidence: 0.9},
	}, nil
}

// signEmbedder maps positive-mean clips to [1,0] and negative to [0,1].
type signEmbedder struct{}

func (signEmbedder) Embed(ctx context.Context, samples []int16) ([]float64, error) {
	var sum int64
	for _, s := range samples {
		sum += int64(s)
	}
	if sum >= 0 {
		return []float64{1, 0}, nil
	}
	return []float64{0, 1}, nil
}

type profileMap map[string][]float64

func (p profileMap) Profiles(userIDs []string) ([]types.EnrollmentProfile, error) {
	var out []types.EnrollmentProfile
	for _, id := range userIDs {
		if vec, ok := p[id]; ok {
			out = append(out, types.EnrollmentProfile{UserID: id, Embedding: vec})
		}
	}
	return out, nil
}

type memNudgeLog struct {
	ch chan types.Nudge
}

func (m *memNudgeLog) SaveNudge(n types.Nudge) error {
	select {
	case m.ch <- n:
	default:
	}
	return nil
}

// testFactory uses 100ms windows with 20ms hops so a full scenario runs in
// well under a second.
func testFactory(infer diarization.Inferencer, cooldown time.Duration) *Factory {
	ident := identify.New(signEmbedder{}, profileMap{
		"alice": {1, 0},
		"bob":   {0, 1},
	}, 0.5)
	return &Factory{
		Window: diarization.WindowConfig{
			WindowS:     0.1,
			HopS:        0.02,
			Timeout:     200 * time.Millisecond,
			MaxSpeakers: 2,
		},
		Mode:       types.DiarizationFallback,
		Inferencer: infer,
		Identifier: ident,
		Engine: coaching.NewEngine(coaching.Thresholds{
			SpeakingRate: 3.0,
			OverlapRatio: 0.3,
			MonologueMs:  0, // off unless a test enables it
		}),
		Limiter: coaching.NewRateLimiter(coaching.NewMemoryStore(), cooldown, nil),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// two-speaker audio: alice positive samples, bob negative
func speakerChunk(tsMs int64, durMs int, value int16) audio.Chunk {
	samples := make([]int16, durMs*audio.TargetSampleRate/1000)
	for i := range samples {
		samples[i] = value
	}
	return audio.Chunk{TimestampMs: tsMs, Samples: samples}
}

func TestEndToEnd_FallbackDiarizationAndIdentification(t *testing.T) {
	infer := &halfSplitInferencer{ready: true}
	reg := NewRegistry(testFactory(infer, 10*time.Second))

	sess, err := reg.Create([]string{"alice", "bob"}, "en-US")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer reg.Finalize(sess.ID)
	if sess.DiarizationMode != types.DiarizationFallback {
		t.Fatalf("expected fallback mode, got %s", sess.DiarizationMode)
	}

	c, err := reg.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// 140ms of two-speaker audio (window is 100ms): alice then bob
	for ts := int64(0); ts < 70; ts += 10 {
		if err := c.IngestAudio(speakerChunk(ts, 10, 1000)); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	for ts := int64(70); ts < 140; ts += 10 {
		if err := c.IngestAudio(speakerChunk(ts, 10, -1000)); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	// at least one inference fires once a full window is buffered
	waitFor(t, func() bool { return atomic.LoadInt32(&infer.calls) >= 1 })
	waitFor(t, func() bool { return len(c.backend.Segments()) == 2 })

	segs := c.backend.Segments()
	span0 := segs[0].EndMs - segs[0].StartMs
	span1 := segs[1].EndMs - segs[1].StartMs
	if span0 != span1 {
		t.Fatalf("expected roughly half the window per speaker, got %dms and %dms", span0, span1)
	}
	if segs[0].Label == segs[1].Label {
		t.Fatalf("expected two distinct local labels, got %+v", segs)
	}

	// identification stabilizes window-local labels onto enrolled users
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.labelUsers) == 2
	})
	c.mu.Lock()
	if c.labelUsers["speaker_0"] != "alice" || c.labelUsers["speaker_1"] != "bob" {
		c.mu.Unlock()
		t.Fatalf("label mapping wrong: %+v", c.labelUsers)
	}
	c.mu.Unlock()
}

func TestCoordinator_NudgeDeliveryAndCooldown(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	events, detach, err := c.Attach("alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer detach()

	// first event is the session state broadcast
	select {
	case ev := <-events:
		if ev.Type != "session_state" {
			t.Fatalf("expected session_state first, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no session_state received")
	}

	frame := types.FeatureFrame{TimestampMs: 1000, SpeakingRate: 3.5, AttributedUserID: "alice"}
	if err := c.IngestFrame(frame); err != nil {
		t.Fatalf("ingest frame: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != "nudge" {
			t.Fatalf("expected nudge, got %s", ev.Type)
		}
		n := ev.Payload.(types.Nudge)
		if n.Type != types.NudgeSlowDown || n.TargetUserID != "alice" || n.TimestampMs != 1000 {
			t.Fatalf("unexpected nudge: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("nudge not delivered")
	}

	// a second triggering frame inside the cooldown is silently dropped
	c.IngestFrame(types.FeatureFrame{TimestampMs: 2000, SpeakingRate: 4.0, AttributedUserID: "alice"})
	select {
	case ev := <-events:
		t.Fatalf("cooldown violated, received %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoordinator_NudgeOrderPerUser(t *testing.T) {
	logCh := &memNudgeLog{ch: make(chan types.Nudge, 16)}
	f := testFactory(&halfSplitInferencer{ready: true}, time.Millisecond)
	f.NudgeLog = logCh
	reg := NewRegistry(f)
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	// cooldown of 1ms lets consecutive frames through; order must follow
	// frame timestamps
	stamps := []int64{1000, 2000, 3000}
	for _, ts := range stamps {
		c.IngestFrame(types.FeatureFrame{TimestampMs: ts, SpeakingRate: 5, AttributedUserID: "alice"})
		time.Sleep(5 * time.Millisecond)
	}

	for _, want := range stamps {
		select {
		case n := <-logCh.ch:
			if n.TimestampMs != want {
				t.Fatalf("nudge out of order: got %d want %d", n.TimestampMs, want)
			}
		case <-time.After(time.Second):
			t.Fatal("missing nudge")
		}
	}
}

func TestCoordinator_FinalizeStopsIngestion(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	c, _ := reg.Get(sess.ID)

	events, _, err := c.Attach("bob")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := reg.Finalize(sess.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := c.IngestAudio(speakerChunk(0, 10, 0)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := reg.Get(sess.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after finalize, got %v", err)
	}
	if c.Session().Status != types.StatusClosed {
		t.Fatalf("expected closed status, got %s", c.Session().Status)
	}

	// outbound stream is closed, not left dangling
	waitFor(t, func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	})
}

func TestCoordinator_DisconnectDoesNotFinalize(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	_, detach, err := c.Attach("alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	detach()

	// session stays usable for the remaining participant
	if err := c.IngestAudio(speakerChunk(0, 10, 0)); err != nil {
		t.Fatalf("ingest after disconnect: %v", err)
	}
	if c.Session().Status != types.StatusActive {
		t.Fatalf("disconnect must not change status, got %s", c.Session().Status)
	}
}

func TestCoordinator_AttachRejectsNonParticipant(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	if _, _, err := c.Attach("mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	if _, err := reg.Create([]string{"alice"}, "en-US"); err == nil {
		t.Fatal("expected error for a single participant")
	}
	if _, err := reg.Create([]string{"alice", "alice"}, "en-US"); err == nil {
		t.Fatal("expected error for duplicate participants")
	}
}

func TestRegistry_AutoLanguageNeverCloud(t *testing.T) {
	f := testFactory(&halfSplitInferencer{ready: true}, 10*time.Second)
	f.Mode = types.DiarizationCloud
	reg := NewRegistry(f)
	sess, err := reg.Create([]string{"alice", "bob"}, types.LanguageAuto)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer reg.Finalize(sess.ID)
	if sess.DiarizationMode == types.DiarizationCloud {
		t.Fatal("auto language must never run cloud diarization")
	}
}

func TestCoordinator_DeliveryRacingDetachDoesNotPanic(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	// hammer delivery and state broadcasts while a participant connects and
	// disconnects; a send racing the detach close would panic the sender
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.deliver("alice", Event{Type: "nudge"})
					c.broadcastState()
				}
			}
		}()
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		events, detach, err := c.Attach("alice")
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		go func() {
			for range events {
			}
		}()
		detach()
	}
	close(stop)
	wg.Wait()
}

func TestCoordinator_StaleWindowIdentificationDiscarded(t *testing.T) {
	reg := NewRegistry(testFactory(&halfSplitInferencer{ready: true}, 10*time.Second))
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	aliceAudio := make([]int16, 1600) // positive mean -> alice
	bobAudio := make([]int16, 1600)   // negative mean -> bob
	for i := range aliceAudio {
		aliceAudio[i] = 1000
		bobAudio[i] = -1000
	}
	segs := []types.SpeakerSegment{{StartMs: 0, EndMs: 100, Label: "speaker_0", Confidence: 0.9}}

	// window 2's identification lands first; window 1 finishing late must
	// not remap the window-local label against the newer segments
	c.identifyWindow(2, aliceAudio, 0, segs)
	c.identifyWindow(1, bobAudio, 0, segs)

	c.mu.Lock()
	got := c.labelUsers["speaker_0"]
	c.mu.Unlock()
	if got != "alice" {
		t.Fatalf("stale window identification overwrote newer mapping: got %q want %q", got, "alice")
	}
}

func TestCoordinator_OverlapNudgeWithoutAttributionGoesToAll(t *testing.T) {
	logCh := &memNudgeLog{ch: make(chan types.Nudge, 16)}
	f := testFactory(&halfSplitInferencer{ready: true}, 10*time.Second)
	f.NudgeLog = logCh
	reg := NewRegistry(f)
	sess, _ := reg.Create([]string{"alice", "bob"}, "en-US")
	defer reg.Finalize(sess.ID)
	c, _ := reg.Get(sess.ID)

	c.IngestFrame(types.FeatureFrame{TimestampMs: 1000, OverlapRatio: 0.6})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-logCh.ch:
			if n.Type != types.NudgeReduceOverlap {
				t.Fatalf("expected reduce_overlap, got %+v", n)
			}
			got[n.TargetUserID] = true
		case <-time.After(time.Second):
			t.Fatalf("expected session-level nudge for both participants, got %v", got)
		}
	}
	if !got["alice"] || !got["bob"] {
		t.Fatalf("expected both participants nudged, got %v", got)
	}
}
