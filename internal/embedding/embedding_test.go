package embedding

import (
	"math"
	"testing"
)

func TestCosine_IdenticalVectors(t *testing.T) {
	v := []float64{0.3, -1.2, 4.5, 0.01}
	if got := Cosine(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("self similarity: got %v want 1.0", got)
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}
	if got := Cosine(a, b); got != 0 {
		t.Fatalf("orthogonal similarity: got %v want 0", got)
	}
}

func TestCosine_DegenerateInputs(t *testing.T) {
	if got := Cosine(nil, nil); got != 0 {
		t.Fatalf("nil vectors: got %v", got)
	}
	if got := Cosine([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
		t.Fatalf("mismatched lengths: got %v", got)
	}
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Fatalf("zero vector: got %v", got)
	}
}

func TestAverage(t *testing.T) {
	vecs := [][]float64{
		{1, 2, 3},
		{3, 4, 5},
		{5, 6, 7},
	}
	got := Average(vecs)
	want := []float64{3, 4, 5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("element %d: got %v want %v", i, got[i], want[i])
		}
	}
	if Average(nil) != nil {
		t.Fatal("empty set should average to nil")
	}
	if Average([][]float64{{1}, {1, 2}}) != nil {
		t.Fatal("ragged set should average to nil")
	}
}
