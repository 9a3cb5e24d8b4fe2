package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/attuneapp/voice-coach/internal/enrollment"
)

// EnrollmentHandler serves the enrollment workflow endpoints.
type EnrollmentHandler struct {
	workflow *enrollment.Workflow
	users    UserDirectory
}

// NewEnrollmentHandler creates an enrollment handler.
func NewEnrollmentHandler(workflow *enrollment.Workflow, users UserDirectory) *EnrollmentHandler {
	return &EnrollmentHandler{workflow: workflow, users: users}
}

type startEnrollmentRequest struct {
	UserID string `json:"user_id"`
}

// Start handles POST /enrollments.
func (h *EnrollmentHandler) Start(c *fiber.Ctx) error {
	var req startEnrollmentRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return errJSON(c, fiber.StatusBadRequest, CodeUnknownUser, "user_id required")
	}
	ok, err := h.users.Exists(c.Context(), req.UserID)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, CodeInternal, "user lookup failed")
	}
	if !ok {
		return errJSON(c, fiber.StatusBadRequest, CodeUnknownUser, "unknown user: "+req.UserID)
	}

	id, err := h.workflow.Start(req.UserID)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, CodeUnknownUser, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"enrollment_id": id})
}

// UploadAudio handles POST /enrollments/:id/audio. The body is raw PCM16LE;
// sample_rate defaults to 16000.
func (h *EnrollmentHandler) UploadAudio(c *fiber.Ctx) error {
	sampleRate := c.QueryInt("sample_rate", 16000)

	err := h.workflow.UploadChunk(c.Params("id"), c.Body(), sampleRate)
	switch {
	case errors.Is(err, enrollment.ErrEmptyChunk):
		return errJSON(c, fiber.StatusBadRequest, CodeEmptyChunk, "audio chunk is empty")
	case errors.Is(err, enrollment.ErrUnknownEnrollment):
		return errJSON(c, fiber.StatusNotFound, CodeUnknownEnrollment, "enrollment not found")
	case err != nil:
		return errJSON(c, fiber.StatusBadRequest, CodeBadSampleRate, err.Error())
	}
	return c.JSON(fiber.Map{"status": "collected"})
}

// Complete handles POST /enrollments/:id/complete.
func (h *EnrollmentHandler) Complete(c *fiber.Ctx) error {
	profile, err := h.workflow.Complete(c.Context(), c.Params("id"))
	switch {
	case errors.Is(err, enrollment.ErrUnknownEnrollment):
		return errJSON(c, fiber.StatusNotFound, CodeUnknownEnrollment, "enrollment not found")
	case errors.Is(err, enrollment.ErrNoValidChunks):
		return errJSON(c, fiber.StatusUnprocessableEntity, CodeNoValidChunks, "no valid audio chunks to enroll")
	case err != nil:
		return errJSON(c, fiber.StatusInternalServerError, CodeInternal, err.Error())
	}
	return c.JSON(fiber.Map{
		"profile_id":    profile.ProfileID,
		"quality_score": profile.QualityScore,
	})
}
