package pipeline

import (
	"fmt"
	"strings"
)

// DefaultPaddingSeconds is the reference per-digit slice padding.
const DefaultPaddingSeconds = 0.10

// Segment is one padded PCM slice attributed to a single prompted digit.
// Embedding is left nil by Segment itself; callers fill it in after
// running the slice through an EmbeddingExtractor.
type Segment struct {
	Digit     byte
	PCM       PCM
	Embedding []float32
}

// Segmenter cuts a decoded utterance into one PCM slice per prompted
// digit, using ASR token timestamps plus a fixed padding window.
type Segmenter struct {
	PaddingSeconds float64
}

// NewSegmenter returns a Segmenter with the given padding, clamped to
// the 50-100ms range named in §4.4.
func NewSegmenter(paddingSeconds float64) *Segmenter {
	if paddingSeconds < 0.05 {
		paddingSeconds = 0.05
	}
	if paddingSeconds > 0.10 {
		paddingSeconds = 0.10
	}
	return &Segmenter{PaddingSeconds: paddingSeconds}
}

// Segment produces exactly len(prompt) slices, or ErrSegmentationMismatch
// when the digit-normalized token count differs from len(prompt) or
// their concatenation doesn't equal prompt.
func (s *Segmenter) Segment(transcript Transcript, decoded PCM, prompt string) ([]Segment, error) {
	digitTokens := NormalizeDigitTokens(transcript.Tokens)

	if len(digitTokens) != len(prompt) {
		return nil, fmt.Errorf("%w: got %d digit tokens, want %d",
			ErrSegmentationMismatch, len(digitTokens), len(prompt))
	}

	var got strings.Builder
	for _, t := range digitTokens {
		got.WriteString(t.Text)
	}
	if got.String() != prompt {
		return nil, fmt.Errorf("%w: token digits %q != prompt %q",
			ErrSegmentationMismatch, got.String(), prompt)
	}

	n := len(decoded)
	segments := make([]Segment, len(prompt))
	for i, t := range digitTokens {
		startSample := int((t.Start - s.PaddingSeconds) * SampleRate)
		endSample := int((t.End + s.PaddingSeconds) * SampleRate)
		if startSample < 0 {
			startSample = 0
		}
		if endSample > n {
			endSample = n
		}
		if endSample < startSample {
			endSample = startSample
		}

		slice := make(PCM, endSample-startSample)
		copy(slice, decoded[startSample:endSample])
		segments[i] = Segment{Digit: prompt[i], PCM: slice}
	}

	return segments, nil
}
