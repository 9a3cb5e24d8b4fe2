// Package handlers exposes the HTTP and websocket surface of the coaching
// audio core. Request/response paths return explicit error codes; the
// streaming path degrades instead of failing.
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Error codes returned to clients.
const (
	CodeInvalidParticipants = "ERR_INVALID_PARTICIPANTS"
	CodeUnknownSession      = "ERR_UNKNOWN_SESSION"
	CodeUnknownUser         = "ERR_UNKNOWN_USER"
	CodeUnknownEnrollment   = "ERR_UNKNOWN_ENROLLMENT"
	CodeEmptyChunk          = "ERR_EMPTY_CHUNK"
	CodeNoValidChunks       = "ERR_NO_VALID_CHUNKS"
	CodeBadSampleRate       = "ERR_BAD_SAMPLE_RATE"
	CodeMalformedFrame      = "ERR_MALFORMED_FRAME"
	CodeInternal            = "ERR_INTERNAL"
)

// UserDirectory is the collaborator that knows which users exist; the core
// only validates ids against it.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// AllowAllDirectory accepts any non-empty user id. Deployments wire the
// real profile service instead.
type AllowAllDirectory struct{}

func (AllowAllDirectory) Exists(_ context.Context, userID string) (bool, error) {
	return userID != "", nil
}

func errJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
