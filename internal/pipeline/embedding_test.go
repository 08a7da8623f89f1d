package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestL2NormalizeUnitNorm is the property-based check for P6: cosine
// similarity of a normalized vector with itself is 1.
func TestL2NormalizeUnitNorm(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 16).Draw(rt, "n")
		v := make([]float32, n)
		var nonZero bool
		for i := range v {
			v[i] = float32(rapid.Float64Range(-10, 10).Draw(rt, "component"))
			if v[i] != 0 {
				nonZero = true
			}
		}
		if !nonZero {
			return
		}

		normalized := L2Normalize(v)
		var sumSq float64
		for _, x := range normalized {
			sumSq += float64(x) * float64(x)
		}
		assert.InDelta(rt, 1.0, math.Sqrt(sumSq), 1e-4)
	})
}

func TestL2NormalizeZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	assert.Equal(t, v, L2Normalize(v))
}
