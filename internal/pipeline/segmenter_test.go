package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmenterProducesOneSlicePerDigit(t *testing.T) {
	s := NewSegmenter(0.1)
	transcript := MakeDigitTranscript("4815", 0.3)
	decoded := make(PCM, int(4*0.3*SampleRate)+SampleRate)

	segs, err := s.Segment(transcript, decoded, "4815")
	require.NoError(t, err)
	require.Len(t, segs, 4)
	for i, want := range []byte("4815") {
		assert.Equal(t, want, segs[i].Digit)
		assert.NotEmpty(t, segs[i].PCM)
	}
}

func TestSegmenterRejectsCountMismatch(t *testing.T) {
	s := NewSegmenter(0.1)
	transcript := MakeDigitTranscript("481", 0.3)
	decoded := make(PCM, SampleRate)

	_, err := s.Segment(transcript, decoded, "4815")
	assert.ErrorIs(t, err, ErrSegmentationMismatch)
}

func TestSegmenterRejectsContentMismatch(t *testing.T) {
	s := NewSegmenter(0.1)
	transcript := MakeDigitTranscript("4815", 0.3)
	decoded := make(PCM, SampleRate)

	_, err := s.Segment(transcript, decoded, "9999")
	assert.ErrorIs(t, err, ErrSegmentationMismatch)
}

func TestSegmenterClampsToBufferBounds(t *testing.T) {
	s := NewSegmenter(0.1)
	// A single digit token right at the very start and end of a short
	// buffer: padding must clamp rather than go out of bounds.
	transcript := Transcript{Text: "5", Tokens: []Token{{Text: "5", Start: 0, End: 0.05}}}
	decoded := make(PCM, int(0.05*SampleRate))

	segs, err := s.Segment(transcript, decoded, "5")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.LessOrEqual(t, len(segs[0].PCM), len(decoded))
}

func TestNewSegmenterClampsPadding(t *testing.T) {
	assert.Equal(t, 0.05, NewSegmenter(0.0).PaddingSeconds)
	assert.Equal(t, 0.10, NewSegmenter(1.0).PaddingSeconds)
	assert.Equal(t, 0.08, NewSegmenter(0.08).PaddingSeconds)
}
