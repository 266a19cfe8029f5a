package vecmath

import (
	"math"
	"testing"
)

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"basic", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"longer than unroll width", []float32{1, 1, 1, 1, 1, 1}, []float32{2, 2, 2, 2, 2, 2}, 12},
		{"mismatched lengths", []float32{1, 2}, []float32{1}, 0},
		{"empty", nil, nil, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DotProduct(tt.a, tt.b); got != tt.want {
				t.Errorf("DotProduct = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNorm(t *testing.T) {
	if got := Norm([]float32{3, 4}); got != 5 {
		t.Errorf("Norm([3 4]) = %f, want 5", got)
	}
	if got := Norm(nil); got != 0 {
		t.Errorf("Norm(nil) = %f, want 0", got)
	}
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	NormalizeInPlace(v)
	if math.Abs(Norm(v)-1) > 1e-6 {
		t.Errorf("norm after normalize = %f, want 1", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalized = %v, want [0.6 0.8]", v)
	}
}

func TestNormalizeInPlace_ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeInPlace(v)
	for i, x := range v {
		if x != 0 {
			t.Errorf("zero vector changed at %d: %f", i, x)
		}
	}
	NormalizeInPlace(nil)
}

func TestIsFinite(t *testing.T) {
	if !IsFinite([]float32{1, -2, 0.5}) {
		t.Error("finite vector reported non-finite")
	}
	if IsFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN not caught")
	}
	if IsFinite([]float32{float32(math.Inf(1))}) {
		t.Error("+Inf not caught")
	}
	if !IsFinite(nil) {
		t.Error("empty vector should be finite")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"empty", nil, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_TruncatesToShorter(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0, 9}, []float32{1, 0})
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("similarity = %f, want 1 after truncation", got)
	}
}
