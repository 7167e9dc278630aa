package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
)

// Reconcile fits v to exactly d components: shorter vectors are right-padded with
// zeros and longer ones keep their first d components. The result is always a new slice.
func Reconcile(v []float32, d int) []float32 {
	if d < 0 {
		d = 0
	}
	out := make([]float32, d)
	copy(out, v)
	return out
}

// Normalize scales v to unit length. A zero-magnitude vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// ContentHash returns the hex SHA-256 digest of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CacheKey namespaces the content hash of text by model and dimension.
func CacheKey(model string, dimension int, text string) string {
	return "embedding:" + model + ":" + strconv.Itoa(dimension) + ":" + ContentHash(text)
}

func checkVector(v []float32) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFiniteVector
		}
	}
	return nil
}
