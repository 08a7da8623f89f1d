package gallery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureCentroids() map[byte][]float32 {
	out := make(map[byte][]float32, len(Digits))
	for _, d := range []byte(Digits) {
		out[d] = []float32{float32(d), 1, 0}
	}
	return out
}

func TestFileStoreCommitLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	ok, err := store.Exists("alice")
	require.NoError(t, err)
	assert.False(t, ok)

	pin, err := HashPIN("1234")
	require.NoError(t, err)

	require.NoError(t, store.Commit(EnrollmentInput{
		SpeakerID: "alice",
		Name:      "Alice",
		PIN:       &pin,
		Centroids: fixtureCentroids(),
	}))

	ok, err = store.Exists("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	g, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", g.Speaker.ID)
	assert.True(t, g.Speaker.HasPIN())
	require.Len(t, g.Centroids, len(Digits))
	for _, d := range []byte(Digits) {
		assert.Equal(t, []float32{float32(d), 1, 0}, g.Centroids[d].Embedding)
	}

	match, err := store.VerifyPIN("alice", "1234")
	require.NoError(t, err)
	assert.True(t, match)

	match, err = store.VerifyPIN("alice", "9999")
	require.NoError(t, err)
	assert.False(t, match)

	// A second store instance opened against the same file sees the
	// persisted speaker (exercises the write-temp-then-rename path).
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	ok, err = reopened.Exists("alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStoreCommitRejectsDuplicateAndIncompleteGallery(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "gallery.json"))
	require.NoError(t, err)

	require.NoError(t, store.Commit(EnrollmentInput{SpeakerID: "bob", Centroids: fixtureCentroids()}))

	err = store.Commit(EnrollmentInput{SpeakerID: "bob", Centroids: fixtureCentroids()})
	assert.ErrorIs(t, err, ErrSpeakerAlreadyExists)

	incomplete := fixtureCentroids()
	delete(incomplete, '5')
	err = store.Commit(EnrollmentInput{SpeakerID: "carol", Centroids: incomplete})
	assert.ErrorIs(t, err, ErrIncompleteGallery)
}

func TestFileStoreLoadMissingSpeaker(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "gallery.json"))
	require.NoError(t, err)

	_, err = store.Load("nobody")
	assert.ErrorIs(t, err, ErrSpeakerNotFound)

	_, err = store.VerifyPIN("nobody", "1234")
	assert.ErrorIs(t, err, ErrSpeakerNotFound)
}

func TestFileStoreVerifyPINWithoutPINSet(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "gallery.json"))
	require.NoError(t, err)
	require.NoError(t, store.Commit(EnrollmentInput{SpeakerID: "dana", Centroids: fixtureCentroids()}))

	_, err = store.VerifyPIN("dana", "1234")
	assert.ErrorIs(t, err, ErrPINNotSet)
}

// The persisted file holds centroids and a PIN digest only; no raw
// audio or recoverable waveform ever reaches disk.
func TestFileStorePersistsNoAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Commit(EnrollmentInput{SpeakerID: "erin", Centroids: fixtureCentroids()}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(raw)
	assert.NotContains(t, contents, "pcm")
	assert.NotContains(t, contents, "audio")
	assert.NotContains(t, contents, "wav")
}
