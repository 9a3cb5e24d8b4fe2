// Package embedding computes fixed-size voice embeddings from 16 kHz mono
// clips via an external inference service, and provides the similarity math
// shared by enrollment and identification.
package embedding

import (
	"context"
	"math"
)

// Service computes a fixed-size embedding for a 16 kHz mono clip.
// The acoustic model behind it is a black box.
type Service interface {
	Embed(ctx context.Context, samples []int16) ([]float64, error)
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched
// lengths or zero vectors.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Average element-wise averages a set of equal-length embeddings.
// Returns nil when the set is empty or lengths disagree.
func Average(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	out := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil
		}
		for i := range v {
			out[i] += v[i]
		}
	}
	for i := range out {
		out[i] /= float64(len(vecs))
	}
	return out
}
