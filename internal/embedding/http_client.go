package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/attuneapp/voice-coach/internal/audio"
)

// HTTPClient posts WAV clips to an external embedder service.
type HTTPClient struct {
	url     string
	timeout time.Duration
	c       *http.Client
}

// NewHTTPClient creates a client for the embedder at url. Each Embed call
// is bounded by timeout on top of any caller deadline.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{url: url, timeout: timeout, c: &http.Client{Timeout: timeout}}
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Service.
func (h *HTTPClient) Embed(ctx context.Context, samples []int16) ([]float64, error) {
	if h.url == "" {
		return nil, fmt.Errorf("embedder url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio.WAV(samples)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/embed", &b)
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
		return nil, fmt.Errorf("embedder %s: %s", resp.Status, string(body))
	}

	var out embedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedder decode: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned empty vector")
	}
	return out.Embedding, nil
}
