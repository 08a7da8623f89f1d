package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestBalancedCoversEveryDigitTwice is the property-based check for P1:
// across the five sets, every digit 0-9 appears exactly twice and no
// set repeats a digit in adjacent positions.
func TestBalancedCoversEveryDigitTwice(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sets, err := Balanced()
		require.NoError(rt, err)
		require.Len(rt, sets, 5)

		counts := make(map[byte]int, 10)
		for _, s := range sets {
			require.Len(rt, s, 4)
			bytes := []byte(s)
			for i := 1; i < len(bytes); i++ {
				require.NotEqual(rt, bytes[i-1], bytes[i], "adjacent repeat in set %q", s)
			}
			for _, b := range bytes {
				counts[b]++
			}
		}
		for _, d := range []byte(Digits) {
			assert.Equal(rt, 2, counts[d], "digit %q should appear exactly twice", string(d))
		}
	})
}

func TestChallengeLength(t *testing.T) {
	for _, n := range []int{1, 4, 6, 10} {
		s, err := Challenge(n)
		require.NoError(t, err)
		assert.Len(t, s, n)
		for _, c := range s {
			assert.True(t, strings.ContainsRune(Digits, c))
		}
	}
}

func TestChallengeRejectsNonPositiveLength(t *testing.T) {
	_, err := Challenge(0)
	assert.Error(t, err)
}
