// Package identify matches anonymous diarized speakers to enrolled users by
// embedding similarity. Identification is best-effort: it degrades to an
// unknown-speaker result and never blocks or fails the diarization path.
package identify

import (
	"context"
	"log"

	"github.com/attuneapp/voice-coach/internal/embedding"
	"github.com/attuneapp/voice-coach/internal/types"
)

// ProfileSource supplies the enrolled profiles for a candidate set.
type ProfileSource interface {
	Profiles(userIDs []string) ([]types.EnrollmentProfile, error)
}

// Identifier scores a clip against candidate users' enrolled embeddings.
type Identifier struct {
	embedder  embedding.Service
	profiles  ProfileSource
	threshold float64
}

// New creates an identifier with the configured similarity threshold.
func New(embedder embedding.Service, profiles ProfileSource, threshold float64) *Identifier {
	return &Identifier{embedder: embedder, profiles: profiles, threshold: threshold}
}

// Identify embeds a 16 kHz mono clip and returns the best-matching
// candidate. The result always carries the raw best similarity, even below
// threshold, so clients can render confidence for an unknown speaker. Any
// failure (embedder unreachable, store error, no profiles) yields a
// null-candidate result with score 0 instead of an error.
func (id *Identifier) Identify(ctx context.Context, samples []int16, candidateUserIDs []string) types.IdentificationResult {
	if len(samples) == 0 || len(candidateUserIDs) == 0 {
		return types.IdentificationResult{}
	}

	vec, err := id.embedder.Embed(ctx, samples)
	if err != nil {
		log.Printf("identify: embedding unavailable, continuing with unknown speaker: %v", err)
		return types.IdentificationResult{}
	}

	profiles, err := id.profiles.Profiles(candidateUserIDs)
	if err != nil {
		log.Printf("identify: profile lookup failed, continuing with unknown speaker: %v", err)
		return types.IdentificationResult{}
	}

	var (
		bestUser  string
		bestScore float64
	)
	for _, p := range profiles {
		if score := embedding.Cosine(vec, p.Embedding); score > bestScore {
			bestScore = score
			bestUser = p.UserID
		}
	}

	res := types.IdentificationResult{Similarity: bestScore}
	if bestScore >= id.threshold {
		res.CandidateUserID = bestUser
	}
	return res
}
