package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/identify"
)

// IdentifyHandler serves one-shot speaker identification requests.
type IdentifyHandler struct {
	identifier *identify.Identifier
}

// NewIdentifyHandler creates an identify handler.
func NewIdentifyHandler(identifier *identify.Identifier) *IdentifyHandler {
	return &IdentifyHandler{identifier: identifier}
}

type identifyResponse struct {
	UserID          *string `json:"user_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Identify handles POST /identify. The body is raw PCM16LE audio; candidate
// user ids arrive as a comma-separated query parameter. A clip that matches
// nobody yields a null user_id with the raw best score, not an error.
func (h *IdentifyHandler) Identify(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return errJSON(c, fiber.StatusBadRequest, CodeEmptyChunk, "audio clip is empty")
	}
	candidates := splitCSV(c.Query("candidates"))
	if len(candidates) == 0 {
		return errJSON(c, fiber.StatusBadRequest, CodeUnknownUser, "candidates query parameter required")
	}

	sampleRate := c.QueryInt("sample_rate", 16000)
	samples, err := audio.Resample16kMono(audio.DecodePCM16LE(c.Body()), sampleRate)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, CodeBadSampleRate, err.Error())
	}

	res := h.identifier.Identify(c.Context(), samples, candidates)
	resp := identifyResponse{SimilarityScore: res.Similarity}
	if res.CandidateUserID != "" {
		resp.UserID = &res.CandidateUserID
	}
	return c.JSON(resp)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
