package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/types"
)

// HTTPInferencer posts window audio to an external diarizer service.
type HTTPInferencer struct {
	url string
	c   *http.Client
}

// NewHTTPInferencer creates an inferencer for the diarizer at url. An empty
// url means the model is unavailable; sessions then run with diarization
// disabled instead of failing.
func NewHTTPInferencer(url string) *HTTPInferencer {
	return &HTTPInferencer{url: url, c: &http.Client{}}
}

// Ready implements Inferencer.
func (h *HTTPInferencer) Ready() bool { return h.url != "" }

type inferResp struct {
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Speaker    string  `json:"speaker"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// Infer implements Inferencer. The per-call deadline comes from the caller's
// context; the fallback backend bounds it with timeout_s.
func (h *HTTPInferencer) Infer(ctx context.Context, window []int16, maxSpeakers int) ([]types.SpeakerSegment, error) {
	if h.url == "" {
		return nil, fmt.Errorf("diarizer url not configured")
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if err := w.WriteField("max_speakers", strconv.Itoa(maxSpeakers)); err != nil {
		return nil, err
	}
	fw, err := w.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio.WAV(window)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/diarize", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("diarizer %s: %s", resp.Status, string(body))
	}

	var out inferResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("diarizer decode: %w", err)
	}

	segs := make([]types.SpeakerSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segs = append(segs, types.SpeakerSegment{
			StartMs:    int64(s.Start * 1000),
			EndMs:      int64(s.End * 1000),
			Label:      s.Speaker,
			Confidence: s.Confidence,
		})
	}
	return segs, nil
}
