package diarization

import (
	"testing"
	"time"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/types"
)

type neverReady struct{ fakeInferencer }

func (*neverReady) Ready() bool { return false }

func fallbackFactory(infer Inferencer) func() *Fallback {
	return func() *Fallback {
		return NewFallback(infer, WindowConfig{WindowS: 1, HopS: 0.5, Timeout: time.Second, MaxSpeakers: 2})
	}
}

func TestSelect_AutoLanguageNeverCloud(t *testing.T) {
	for _, configured := range []string{types.DiarizationCloud, types.DiarizationFallback} {
		b := Select(types.LanguageAuto, configured, fallbackFactory(&fakeInferencer{}))
		if b.Mode() == types.DiarizationCloud {
			t.Fatalf("auto language selected cloud (configured %q)", configured)
		}
		if b.Mode() != types.DiarizationFallback {
			t.Fatalf("auto language: got %q want fallback", b.Mode())
		}
	}
}

func TestSelect_AutoWithoutModelDisables(t *testing.T) {
	b := Select(types.LanguageAuto, types.DiarizationCloud, fallbackFactory(&neverReady{}))
	if b.Mode() != types.DiarizationDisabled {
		t.Fatalf("got %q want disabled", b.Mode())
	}
}

func TestSelect_HonorsConfiguredMode(t *testing.T) {
	if b := Select("en-US", types.DiarizationCloud, nil); b.Mode() != types.DiarizationCloud {
		t.Fatalf("cloud: got %q", b.Mode())
	}
	if b := Select("en-US", types.DiarizationFallback, fallbackFactory(&fakeInferencer{})); b.Mode() != types.DiarizationFallback {
		t.Fatalf("fallback: got %q", b.Mode())
	}
	if b := Select("en-US", types.DiarizationDisabled, nil); b.Mode() != types.DiarizationDisabled {
		t.Fatalf("disabled: got %q", b.Mode())
	}
}

func TestSelect_FallbackUnavailableDegradesToDisabled(t *testing.T) {
	b := Select("en-US", types.DiarizationFallback, fallbackFactory(&neverReady{}))
	if b.Mode() != types.DiarizationDisabled {
		t.Fatalf("got %q want disabled", b.Mode())
	}
	b = Select("en-US", types.DiarizationFallback, nil)
	if b.Mode() != types.DiarizationDisabled {
		t.Fatalf("nil factory: got %q want disabled", b.Mode())
	}
}

func TestDisabled_CollapsesToSingleUnknownStream(t *testing.T) {
	d := NewDisabled()
	d.Ingest(chunkAt(0, 100))
	d.Ingest(chunkAt(100, 100))
	segs := d.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected one collapsed segment, got %+v", segs)
	}
	if segs[0].Label != types.UnknownSpeaker || segs[0].StartMs != 0 || segs[0].EndMs != 200 {
		t.Fatalf("unexpected collapsed segment: %+v", segs[0])
	}
}

func TestCloud_NormalizesUpstreamLabels(t *testing.T) {
	c := NewCloud()
	chunk := chunkAt(0, 100)
	chunk.Labelled = []audio.LabelledSegment{
		{StartMs: 0, EndMs: 50, Speaker: "SPEAKER 0", Confidence: 0.9},
		{StartMs: 50, EndMs: 100, Speaker: "1", Confidence: 0.9},
	}
	c.Ingest(chunk)
	segs := c.Segments()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %+v", segs)
	}
	if segs[0].Label != "speaker_0" || segs[1].Label != "speaker_1" {
		t.Fatalf("labels not normalized: %+v", segs)
	}
}
