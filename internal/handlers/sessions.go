package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/attuneapp/voice-coach/internal/session"
	"github.com/attuneapp/voice-coach/internal/types"
)

// NudgeHistory reads persisted nudges for a session.
type NudgeHistory interface {
	ListNudges(sessionID string, limit int) ([]types.Nudge, error)
}

// SessionHandler serves session lifecycle requests.
type SessionHandler struct {
	registry *session.Registry
	users    UserDirectory
	history  NudgeHistory
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(registry *session.Registry, users UserDirectory, history NudgeHistory) *SessionHandler {
	return &SessionHandler{registry: registry, users: users, history: history}
}

type createSessionRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	LanguageMode   string   `json:"language_mode"`
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, CodeInvalidParticipants, "invalid request body")
	}

	for _, id := range req.ParticipantIDs {
		ok, err := h.users.Exists(c.Context(), id)
		if err != nil {
			return errJSON(c, fiber.StatusInternalServerError, CodeInternal, "user lookup failed")
		}
		if !ok {
			return errJSON(c, fiber.StatusBadRequest, CodeUnknownUser, "unknown participant: "+id)
		}
	}

	sess, err := h.registry.Create(req.ParticipantIDs, req.LanguageMode)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, CodeInvalidParticipants, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id":       sess.ID,
		"diarization_mode": sess.DiarizationMode,
		"language_mode":    sess.LanguageMode,
		"status":           sess.Status,
	})
}

// Get handles GET /sessions/:id.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	coord, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errJSON(c, fiber.StatusNotFound, CodeUnknownSession, "session not found")
	}
	return c.JSON(coord.Session())
}

// Finalize handles DELETE /sessions/:id.
func (h *SessionHandler) Finalize(c *fiber.Ctx) error {
	if err := h.registry.Finalize(c.Params("id")); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			return errJSON(c, fiber.StatusNotFound, CodeUnknownSession, "session not found")
		}
		return errJSON(c, fiber.StatusInternalServerError, CodeInternal, err.Error())
	}
	return c.JSON(fiber.Map{"status": types.StatusClosed})
}

// Nudges handles GET /sessions/:id/nudges. History survives finalize, so
// this reads storage rather than the registry.
func (h *SessionHandler) Nudges(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	nudges, err := h.history.ListNudges(c.Params("id"), limit)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, CodeInternal, err.Error())
	}
	return c.JSON(fiber.Map{"nudges": nudges})
}
