package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attuneapp/voice-coach/internal/coaching"
	"github.com/attuneapp/voice-coach/internal/diarization"
	"github.com/attuneapp/voice-coach/internal/identify"
	"github.com/attuneapp/voice-coach/internal/types"
)

// ErrUnknownSession is returned for session ids that do not exist or were
// already finalized.
var ErrUnknownSession = errors.New("unknown session id")

// Factory wires the per-session pipeline dependencies.
type Factory struct {
	Window     diarization.WindowConfig
	Mode       string // configured diarization preference
	Inferencer diarization.Inferencer
	Identifier *identify.Identifier
	Engine     *coaching.Engine
	Limiter    *coaching.RateLimiter
	NudgeLog   NudgeLog
	Hop        time.Duration // defaults to Window.HopS
}

func (f *Factory) hop() time.Duration {
	if f.Hop > 0 {
		return f.Hop
	}
	return time.Duration(f.Window.HopS * float64(time.Second))
}

// Registry tracks active coordinators by session id.
type Registry struct {
	factory *Factory

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

func NewRegistry(factory *Factory) *Registry {
	return &Registry{factory: factory, sessions: make(map[string]*Coordinator)}
}

// Create starts a new session and binds its diarization backend for life.
func (r *Registry) Create(participantIDs []string, languageMode string) (types.Session, error) {
	ids := dedupe(participantIDs)
	if len(ids) < 2 {
		return types.Session{}, fmt.Errorf("a session needs at least 2 distinct participants, got %d", len(ids))
	}
	if languageMode == "" {
		languageMode = types.LanguageAuto
	}

	f := r.factory
	backend := diarization.Select(languageMode, f.Mode, func() *diarization.Fallback {
		return diarization.NewFallback(f.Inferencer, f.Window)
	})

	sess := types.Session{
		ID:              uuid.New().String(),
		ParticipantIDs:  ids,
		LanguageMode:    languageMode,
		DiarizationMode: backend.Mode(),
		Status:          types.StatusActive,
		CreatedAt:       time.Now(),
	}

	c := newCoordinator(sess, backend, f.Identifier, f.Engine, f.Limiter, f.NudgeLog, f.hop())

	r.mu.Lock()
	r.sessions[sess.ID] = c
	r.mu.Unlock()

	log.Printf("session %s created (participants=%d, language=%s, diarization=%s)",
		sess.ID, len(ids), languageMode, backend.Mode())
	return sess, nil
}

// Get returns the coordinator for an active session.
func (r *Registry) Get(id string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return c, nil
}

// Finalize tears a session down and discards its state.
func (r *Registry) Finalize(id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	c.Finalize()
	log.Printf("session %s finalized", id)
	return nil
}

// CloseAll finalizes every active session; used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Coordinator, 0, len(r.sessions))
	for id, c := range r.sessions {
		all = append(all, c)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, c := range all {
		c.Finalize()
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
