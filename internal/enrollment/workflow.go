// Package enrollment manages voice profile enrollment: an enrollment
// session collects audio chunks for one user and completion distills them
// into a single embedding profile.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attuneapp/voice-coach/internal/audio"
	"github.com/attuneapp/voice-coach/internal/embedding"
	"github.com/attuneapp/voice-coach/internal/types"
)

// Enrollment session states: STARTED -> AUDIO_COLLECTED (repeatable) -> COMPLETED.
const (
	stateStarted        = "STARTED"
	stateAudioCollected = "AUDIO_COLLECTED"
)

var (
	// ErrEmptyChunk rejects zero-byte audio uploads.
	ErrEmptyChunk = errors.New("enrollment audio chunk is empty")
	// ErrUnknownEnrollment is returned for ids that were never started or
	// were already completed.
	ErrUnknownEnrollment = errors.New("unknown enrollment id")
	// ErrNoValidChunks is returned when completion has nothing to build a
	// profile from: failing loudly beats silently storing an empty profile.
	ErrNoValidChunks = errors.New("enrollment has no valid audio chunks")
)

// ProfileStore persists enrollment profiles; replacement must be atomic.
type ProfileStore interface {
	ReplaceProfile(p types.EnrollmentProfile) error
}

// ArtifactSaver archives raw enrollment clips. Optional, best-effort.
type ArtifactSaver interface {
	SaveClip(userID, enrollmentID string, seq int, wav []byte) (string, error)
}

// ClipArchiver mirrors saved clips to remote storage. Optional, best-effort.
type ClipArchiver interface {
	ArchiveClip(enrollmentID, clipPath string) (string, error)
}

type enrollSession struct {
	id      string
	userID  string
	state   string
	chunks  [][]int16
	started time.Time
}

// Workflow runs enrollment sessions in memory until completion persists a
// profile.
type Workflow struct {
	embedder  embedding.Service
	store     ProfileStore
	artifacts ArtifactSaver
	archiver  ClipArchiver

	mu       sync.Mutex
	sessions map[string]*enrollSession
}

// NewWorkflow creates an enrollment workflow. artifacts and archiver may be
// nil; completion then skips archival.
func NewWorkflow(embedder embedding.Service, store ProfileStore, artifacts ArtifactSaver, archiver ClipArchiver) *Workflow {
	return &Workflow{
		embedder:  embedder,
		store:     store,
		artifacts: artifacts,
		archiver:  archiver,
		sessions:  make(map[string]*enrollSession),
	}
}

// Start creates an enrollment session scoped to one user; no audio yet.
func (w *Workflow) Start(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}
	id := uuid.New().String()
	w.mu.Lock()
	w.sessions[id] = &enrollSession{id: id, userID: userID, state: stateStarted, started: time.Now()}
	w.mu.Unlock()
	return id, nil
}

// UploadChunk appends one audio chunk, resampled to the pipeline rate.
// Empty chunks are rejected rather than silently accepted.
func (w *Workflow) UploadChunk(enrollmentID string, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return ErrEmptyChunk
	}
	samples, err := audio.Resample16kMono(audio.DecodePCM16LE(pcm), sampleRate)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return ErrEmptyChunk
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[enrollmentID]
	if !ok {
		return ErrUnknownEnrollment
	}
	s.chunks = append(s.chunks, samples)
	s.state = stateAudioCollected
	return nil
}

// Complete embeds every uploaded chunk, averages them into one profile
// embedding, scores consistency, and atomically replaces any prior profile
// for the user. The enrollment session is consumed either way once chunks
// exist to process.
func (w *Workflow) Complete(ctx context.Context, enrollmentID string) (types.EnrollmentProfile, error) {
	w.mu.Lock()
	s, ok := w.sessions[enrollmentID]
	if ok {
		delete(w.sessions, enrollmentID)
	}
	w.mu.Unlock()
	if !ok {
		return types.EnrollmentProfile{}, ErrUnknownEnrollment
	}
	if len(s.chunks) == 0 {
		return types.EnrollmentProfile{}, ErrNoValidChunks
	}

	vecs := make([][]float64, 0, len(s.chunks))
	for i, chunk := range s.chunks {
		vec, err := w.embedder.Embed(ctx, chunk)
		if err != nil {
			// enrollment is a one-shot request path: loud per-chunk logging,
			// and the chunk is excluded rather than poisoning the average
			log.Printf("enrollment %s: chunk %d embedding failed: %v", enrollmentID, i, err)
			continue
		}
		vecs = append(vecs, vec)
	}
	if len(vecs) == 0 {
		return types.EnrollmentProfile{}, ErrNoValidChunks
	}

	profile := types.EnrollmentProfile{
		ProfileID:    uuid.New().String(),
		UserID:       s.userID,
		Embedding:    embedding.Average(vecs),
		QualityScore: qualityScore(vecs),
		CreatedAt:    time.Now(),
	}
	if profile.Embedding == nil {
		return types.EnrollmentProfile{}, fmt.Errorf("embedder returned inconsistent vector sizes")
	}

	if err := w.store.ReplaceProfile(profile); err != nil {
		return types.EnrollmentProfile{}, fmt.Errorf("failed to persist profile: %v", err)
	}

	w.archiveClips(s)
	return profile, nil
}

// archiveClips saves raw enrollment audio best-effort; failures never fail
// the enrollment.
func (w *Workflow) archiveClips(s *enrollSession) {
	if w.artifacts == nil {
		return
	}
	for i, chunk := range s.chunks {
		path, err := w.artifacts.SaveClip(s.userID, s.id, i, audio.WAV(chunk))
		if err != nil {
			log.Printf("enrollment %s: failed to save clip %d: %v", s.id, i, err)
			continue
		}
		if w.archiver != nil {
			if _, err := w.archiver.ArchiveClip(s.id, path); err != nil {
				log.Printf("enrollment %s: drive archive of clip %d failed, keeping local copy: %v", s.id, i, err)
			}
		}
	}
}

// qualityScore measures inter-chunk embedding consistency: the mean pairwise
// cosine similarity clamped to [0,1]. A single chunk has nothing to disagree
// with and scores 1.
func qualityScore(vecs [][]float64) float64 {
	if len(vecs) < 2 {
		return 1
	}
	var sum float64
	var n int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += embedding.Cosine(vecs[i], vecs[j])
			n++
		}
	}
	score := sum / float64(n)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
