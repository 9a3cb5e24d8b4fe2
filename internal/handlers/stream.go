package handlers

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/session"
	"github.com/attuneapp/voice-coach/internal/types"
)

// StreamHandler handles the per-participant websocket: binary messages are
// PCM16LE audio chunks, text messages are JSON controls (feature frames,
// cloud segments, finalize). Outbound events are session_state, nudge and
// error envelopes.
type StreamHandler struct {
	registry *session.Registry
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(registry *session.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

// inbound control message
type controlMessage struct {
	Type        string                  `json:"type"` // config | feature_frame | segments | finalize
	SampleRate  int                     `json:"sample_rate,omitempty"`
	TimestampMs int64                   `json:"timestamp_ms,omitempty"`
	Frame       *types.FeatureFrame     `json:"frame,omitempty"`
	Segments    []audio.LabelledSegment `json:"segments,omitempty"`
}

// Handle processes one participant connection for the session in :id.
// Dropping the socket detaches the participant but never finalizes the
// session; session lifetime is independent of any single socket.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	sessionID := c.Params("id")
	userID := c.Query("user_id")

	coord, err := h.registry.Get(sessionID)
	if err != nil {
		writeError(c, nil, CodeUnknownSession, "session not found")
		return
	}

	events, detach, err := coord.Attach(userID)
	if err != nil {
		writeError(c, nil, CodeUnknownUser, "not a session participant")
		return
	}
	defer detach()

	log.Printf("session %s: participant %s connected", sessionID, userID)

	// one mutex guards the socket: the event pump and inline error replies
	// must not interleave writes
	var writeMu sync.Mutex
	go func() {
		for ev := range events {
			writeMu.Lock()
			err := c.WriteJSON(ev)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	sampleRate := audio.TargetSampleRate
	var clockMs int64 // server-side timestamp for raw audio frames

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("session %s: participant %s disconnected: %v", sessionID, userID, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			samples, err := audio.Resample16kMono(audio.DecodePCM16LE(message), sampleRate)
			if err != nil {
				writeError(c, &writeMu, CodeBadSampleRate, err.Error())
				continue
			}
			if len(samples) == 0 {
				continue
			}
			chunk := audio.Chunk{TimestampMs: clockMs, Samples: samples}
			clockMs += chunk.DurationMs()
			if err := coord.IngestAudio(chunk); err != nil {
				writeError(c, &writeMu, CodeUnknownSession, "session closed")
				return
			}

		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				writeError(c, &writeMu, CodeMalformedFrame, "invalid control message")
				continue
			}
			switch msg.Type {
			case "config":
				if msg.SampleRate > 0 {
					sampleRate = msg.SampleRate
				}
			case "feature_frame":
				if msg.Frame == nil {
					writeError(c, &writeMu, CodeMalformedFrame, "feature_frame requires a frame")
					continue
				}
				if err := coord.IngestFrame(*msg.Frame); err != nil {
					writeError(c, &writeMu, CodeUnknownSession, "session closed")
					return
				}
			case "segments":
				// upstream already diarized: pass labelled segments through
				if err := coord.IngestAudio(audio.Chunk{TimestampMs: msg.TimestampMs, Labelled: msg.Segments}); err != nil {
					writeError(c, &writeMu, CodeUnknownSession, "session closed")
					return
				}
			case "finalize":
				if err := h.registry.Finalize(sessionID); err != nil {
					writeError(c, &writeMu, CodeUnknownSession, "session not found")
				}
				return
			default:
				writeError(c, &writeMu, CodeMalformedFrame, "unknown control type: "+msg.Type)
			}
		}
	}
}

func writeError(c *websocket.Conn, mu *sync.Mutex, code, message string) {
	ev := session.Event{
		Type:    "error",
		Payload: fiberMap{"code": code, "message": message},
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	if err := c.WriteJSON(ev); err != nil {
		log.Printf("websocket error write failed: %v", err)
	}
}

type fiberMap map[string]interface{}
