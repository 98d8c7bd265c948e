package search

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CosineDistance returns 1 - cosine similarity. A zero vector is at
// distance 1 from everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

// FormatVector renders v as a pgvector text literal
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// CheckDimensions verifies a vector has the configured length and only
// finite components
func CheckDimensions(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("expected %d dimensions, got %d", dims, len(v))
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("component %d is not finite", i)
		}
	}
	return nil
}
