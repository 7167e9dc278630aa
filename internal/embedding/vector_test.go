package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		dim  int
		want []float32
	}{
		{"pads shorter", []float32{1, 2}, 4, []float32{1, 2, 0, 0}},
		{"truncates longer", []float32{1, 2, 3, 4, 5}, 3, []float32{1, 2, 3}},
		{"keeps equal", []float32{1, 2, 3}, 3, []float32{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.in, tt.dim)
			assert.Len(t, got, tt.dim)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcile_DoesNotAliasInput(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Reconcile(in, 3)
	out[0] = 9
	assert.Equal(t, float32(1), in[0])
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{3, 4})
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, got, 1e-6)

	again := Normalize(got)
	assert.InDeltaSlice(t, got, again, 1e-6)

	var sum float64
	for _, x := range Normalize([]float32{1, 2, 3, 4, 5}) {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func TestCheckVector(t *testing.T) {
	assert.ErrorIs(t, checkVector(nil), ErrEmptyVector)
	assert.ErrorIs(t, checkVector([]float32{1, float32(math.NaN())}), ErrNonFiniteVector)
	assert.ErrorIs(t, checkVector([]float32{float32(math.Inf(-1))}), ErrNonFiniteVector)
	assert.NoError(t, checkVector([]float32{0}))
}

func TestContentHashAndCacheKey(t *testing.T) {
	h := ContentHash("hello world")
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", h)
	assert.Equal(t, "embedding:m:4:"+h, CacheKey("m", 4, "hello world"))
}

func TestDefaultNormalizer(t *testing.T) {
	assert.Equal(t, "a b c", DefaultNormalizer.Normalize("  A\tB\n\nc "))
	assert.Equal(t, "", DefaultNormalizer.Normalize(" \n "))
}
