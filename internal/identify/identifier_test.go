package identify

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/attuneapp/voice-coach/internal/types"
)

// clipEmbedder derives a deterministic embedding from the clip contents so
// identical audio embeds identically.
type clipEmbedder struct{ err error }

func (c clipEmbedder) Embed(ctx context.Context, samples []int16) ([]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	vec := make([]float64, 4)
	for i, s := range samples {
		vec[i%4] += float64(s)
	}
	return vec, nil
}

type profileMap map[string][]float64

func (p profileMap) Profiles(userIDs []string) ([]types.EnrollmentProfile, error) {
	var out []types.EnrollmentProfile
	for _, id := range userIDs {
		if vec, ok := p[id]; ok {
			out = append(out, types.EnrollmentProfile{UserID: id, Embedding: vec})
		}
	}
	return out, nil
}

type failingProfiles struct{}

func (failingProfiles) Profiles([]string) ([]types.EnrollmentProfile, error) {
	return nil, errors.New("store down")
}

func clip() []int16 { return []int16{100, -200, 300, -400, 500, -600, 700, -800} }

func TestIdentify_SelfSimilarityNearOne(t *testing.T) {
	emb := clipEmbedder{}
	enrolled, _ := emb.Embed(context.Background(), clip())
	id := New(emb, profileMap{"user-a": enrolled}, 0.7)

	res := id.Identify(context.Background(), clip(), []string{"user-a"})
	if res.CandidateUserID != "user-a" {
		t.Fatalf("expected user-a, got %+v", res)
	}
	if math.Abs(res.Similarity-1.0) > 1e-9 {
		t.Fatalf("self similarity: got %v want 1.0", res.Similarity)
	}
}

func TestIdentify_PicksMaximum(t *testing.T) {
	emb := clipEmbedder{}
	enrolled, _ := emb.Embed(context.Background(), clip())
	id := New(emb, profileMap{
		"user-a": {1, -1, 1, -1}, // unrelated
		"user-b": enrolled,
	}, 0.7)

	res := id.Identify(context.Background(), clip(), []string{"user-a", "user-b"})
	if res.CandidateUserID != "user-b" {
		t.Fatalf("expected user-b, got %+v", res)
	}
}

func TestIdentify_BelowThresholdKeepsRawScore(t *testing.T) {
	emb := clipEmbedder{}
	enrolled, _ := emb.Embed(context.Background(), clip())
	id := New(emb, profileMap{"user-a": enrolled}, 0.999999999)

	// a near-match scores high but not perfectly; the raw similarity survives
	other := []int16{600, -800, 1000, -1100}
	res := id.Identify(context.Background(), other, []string{"user-a"})
	if res.CandidateUserID != "" {
		t.Fatalf("below-threshold match must not be coerced to a user: %+v", res)
	}
	if res.Similarity == 0 {
		t.Fatal("raw similarity must be preserved below threshold")
	}
}

func TestIdentify_EmbedderFailureDegrades(t *testing.T) {
	id := New(clipEmbedder{err: errors.New("unreachable")}, profileMap{"user-a": {1, 0, 0, 0}}, 0.5)
	res := id.Identify(context.Background(), clip(), []string{"user-a"})
	if res.CandidateUserID != "" || res.Similarity != 0 {
		t.Fatalf("expected null-candidate score-0 result, got %+v", res)
	}
}

func TestIdentify_StoreFailureDegrades(t *testing.T) {
	id := New(clipEmbedder{}, failingProfiles{}, 0.5)
	res := id.Identify(context.Background(), clip(), []string{"user-a"})
	if res.CandidateUserID != "" || res.Similarity != 0 {
		t.Fatalf("expected null-candidate score-0 result, got %+v", res)
	}
}

func TestIdentify_NoCandidates(t *testing.T) {
	id := New(clipEmbedder{}, profileMap{}, 0.5)
	res := id.Identify(context.Background(), clip(), nil)
	if res.CandidateUserID != "" || res.Similarity != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
