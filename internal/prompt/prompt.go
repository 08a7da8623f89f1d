// Package prompt generates the digit strings a speaker must utter:
// balanced sets for enrollment, uniform random challenges for
// verification (§4.7).
package prompt

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Digits is the canonical digit alphabet.
const Digits = "0123456789"

const (
	numSets             = 5
	digitsPerSet        = 4
	maxAdjacencyRetries = 200
)

// Balanced draws five four-digit strings such that every digit 0-9
// appears exactly twice across the 20 positions and no string repeats
// a digit in two adjacent positions (§4.7, P1).
func Balanced() ([5]string, error) {
	var sets [5]string

	for attempt := 0; attempt < maxAdjacencyRetries; attempt++ {
		multiset := make([]byte, 0, numSets*digitsPerSet)
		for _, d := range []byte(Digits) {
			multiset = append(multiset, d, d)
		}
		if err := shuffle(multiset); err != nil {
			return sets, err
		}

		ok := true
		for i := 0; i < numSets; i++ {
			group := multiset[i*digitsPerSet : (i+1)*digitsPerSet]
			if hasAdjacentRepeat(group) {
				ok = false
				break
			}
			sets[i] = string(group)
		}
		if ok {
			return sets, nil
		}
	}

	return sets, fmt.Errorf("prompt: could not draw a balanced schedule without adjacent repeats after %d attempts", maxAdjacencyRetries)
}

func hasAdjacentRepeat(group []byte) bool {
	for i := 1; i < len(group); i++ {
		if group[i] == group[i-1] {
			return true
		}
	}
	return false
}

// shuffle performs a cryptographically strong Fisher-Yates shuffle.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

// Challenge draws a single uniformly-random digit string of length
// length (expected in [4, 6] per §4.7; no uniqueness constraint).
func Challenge(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("prompt: challenge length must be positive, got %d", length)
	}
	out := make([]byte, length)
	for i := range out {
		d, err := randInt(10)
		if err != nil {
			return "", err
		}
		out[i] = Digits[d]
	}
	return string(out), nil
}

func randInt(n int) (int, error) {
	bi, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("prompt: crypto/rand: %w", err)
	}
	return int(bi.Int64()), nil
}
