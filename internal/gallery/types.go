// Package gallery implements the speaker gallery: per-speaker,
// per-digit centroid storage plus the salted PIN digest, matching the
// Speaker/DigitCentroid data model.
package gallery

import (
	"errors"
	"time"
)

// Errors returned by Store operations. The session layer maps these
// to stable client-visible codes; never the raw error text.
var (
	ErrSpeakerNotFound      = errors.New("gallery: speaker not found")
	ErrSpeakerAlreadyExists = errors.New("gallery: speaker already exists")
	ErrPINNotSet            = errors.New("gallery: pin not set")
	ErrIncompleteGallery    = errors.New("gallery: centroid set incomplete")
)

// Digits is the canonical digit alphabet in storage order.
const Digits = "0123456789"

// Speaker is an enrolled identity (§3).
type Speaker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	PINDigest PINDigest `json:"pinDigest,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasPIN reports whether a PIN fallback digest is configured.
func (s Speaker) HasPIN() bool { return len(s.PINDigest.Hash) > 0 }

// PINDigest is the salted one-way digest of a four-digit PIN (§4.8,
// §9 I5). The raw PIN never enters this type.
type PINDigest struct {
	Salt []byte `json:"salt,omitempty"`
	Hash []byte `json:"hash,omitempty"`
}

// DigitCentroid is one (Speaker, digit) reference embedding (§3).
type DigitCentroid struct {
	Digit     byte      `json:"digit"`
	Embedding []float32 `json:"embedding"`
}

// Gallery is a Speaker plus its full ten-digit centroid set.
type Gallery struct {
	Speaker   Speaker
	Centroids map[byte]DigitCentroid
}

// EnrollmentInput is what Store.Commit needs to atomically create a
// Speaker plus its gallery (§4.6 commit).
type EnrollmentInput struct {
	SpeakerID string
	Name      string
	PIN       *PINDigest // nil if no PIN was registered
	Centroids map[byte][]float32
}

// Store is the explicit capability interface for gallery persistence
// (§4.6), replacing the source's implicit duck-typed store contract
// per §9.
type Store interface {
	Exists(speakerID string) (bool, error)
	Commit(input EnrollmentInput) error
	Load(speakerID string) (Gallery, error)
	VerifyPIN(speakerID, pin string) (bool, error)
}
