package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askid/voiceauth/internal/gallery"
	"github.com/askid/voiceauth/internal/pipeline"
)

func enrollSpeaker(t *testing.T, deps Deps, speakerID, pin string) {
	t.Helper()
	conn := newScriptedConn()
	done := make(chan error, 1)
	go func() {
		done <- runEnrollment(context.Background(), conn, deps, Message{
			Type:      TypeStartEnrollment,
			SpeakerID: speakerID,
		})
	}()
	prompts := conn.awaitPrompts(t)
	for _, p := range prompts {
		conn.feed(audioFrame(p))
	}
	if pin != "" {
		conn.feed(msgFrame(Message{Type: TypeRegisterPIN, PIN: pin}))
	}
	require.NoError(t, <-done)
}

func TestRunVerifyVoiceSuccess(t *testing.T) {
	deps := testDeps(t)
	enrollSpeaker(t, deps, "dave", "4242")

	conn := newScriptedConn()
	done := make(chan error, 1)
	go func() {
		done <- runVerify(context.Background(), conn, deps, Message{Type: TypeStartVerify, SpeakerID: "dave"})
	}()

	challenge := conn.awaitPrompt(t)
	conn.feed(audioFrame(challenge))

	require.NoError(t, <-done)
	results := conn.messagesOfType(TypeVerifyResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].Authenticated)
	assert.Equal(t, "voice", results[0].AuthMethod)
	require.NotNil(t, results[0].VoiceSimilarity)
	assert.InDelta(t, 1.0, *results[0].VoiceSimilarity, 1e-6)
}

func TestRunVerifyVoiceFailsFallsBackToPIN(t *testing.T) {
	deps := testDeps(t)

	// Commit a gallery entry directly with centroids orthogonal to
	// every digit's real embedding, simulating an enrolled voice that
	// does not match whatever comes in at verify time, while leaving
	// ASR/segmentation free to succeed on the correct digit string.
	pinDigest, err := gallery.HashPIN("1357")
	require.NoError(t, err)
	require.NoError(t, deps.Store.Commit(gallery.EnrollmentInput{
		SpeakerID: "erin",
		PIN:       &pinDigest,
		Centroids: shiftedCentroids(),
	}))

	conn := newScriptedConn()
	done := make(chan error, 1)
	go func() {
		done <- runVerify(context.Background(), conn, deps, Message{Type: TypeStartVerify, SpeakerID: "erin"})
	}()

	challenge := conn.awaitPrompt(t)
	conn.feed(audioFrame(challenge))

	// First verify_result (voice fail, can_fallback_to_pin) arrives
	// before the PIN prompt loop starts.
	firstResult := conn.awaitVerifyResult(t)
	assert.False(t, firstResult.Authenticated)
	assert.True(t, firstResult.CanFallbackToPIN)

	conn.feed(msgFrame(Message{Type: TypeVerifyPIN, PIN: "1357"}))

	require.NoError(t, <-done)
	results := conn.messagesOfType(TypeVerifyResult)
	require.Len(t, results, 2)
	assert.True(t, results[1].Authenticated)
	assert.Equal(t, "pin", results[1].AuthMethod)
}

// shiftedCentroids builds a centroid set orthogonal to digitEngine's
// real one-hot embedding for every digit, so cosine similarity against
// any genuine verification embedding is always exactly 0.
func shiftedCentroids() map[byte][]float32 {
	out := make(map[byte][]float32, len(gallery.Digits))
	for _, d := range []byte(gallery.Digits) {
		v := make([]float32, pipeline.EmbeddingDim)
		v[(int(d-'0')+5)%10+20] = 1.0
		out[d] = v
	}
	return out
}

func TestRunVerifySpeakerNotFound(t *testing.T) {
	deps := testDeps(t)
	conn := newFakeConn()
	err := runVerify(context.Background(), conn, deps, Message{Type: TypeStartVerify, SpeakerID: "ghost"})
	require.Error(t, err)
	errs := conn.messagesOfType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(CodeSpeakerNotFound), errs[0].Code)
}
