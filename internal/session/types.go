package session

import (
	"time"

	"github.com/askid/voiceauth/internal/gallery"
	"github.com/askid/voiceauth/internal/pipeline"
)

// Config carries the tunable parameters named in §6's "Environment /
// configuration inputs" list. Model paths live on Deps (they select
// concrete pipeline implementations, not session behavior).
type Config struct {
	Threshold          float64       // τ, default 0.75
	PaddingSeconds     float64       // default 0.10
	IdleTimeout        time.Duration // default 60s
	MaxRetriesPerSet   int           // default 5
	ChallengeLengthMin int           // default 4
	ChallengeLengthMax int           // default 6
}

// DefaultConfig returns the reference defaults named throughout §4 and §6.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.75,
		PaddingSeconds:     0.10,
		IdleTimeout:        60 * time.Second,
		MaxRetriesPerSet:   5,
		ChallengeLengthMin: 4,
		ChallengeLengthMax: 6,
	}
}

// Deps bundles the explicit capability interfaces the session state
// machines are polymorphic over (§9): production wiring supplies
// ONNX/whisper.cpp-backed implementations; tests supply deterministic
// fakes.
type Deps struct {
	Decoder   pipeline.AudioDecoder
	Pool      *pipeline.Pool
	Segmenter *pipeline.Segmenter
	Store     gallery.Store
	Config    Config
}

// enrollmentState is the tagged state of the enrollment state machine (§4.8).
type enrollmentState int

const (
	stateConnected enrollmentState = iota
	stateAwaitingAudio
	stateAwaitingPIN
	stateCommitting
	stateTerminal
)

// EnrollmentSession is the transient, memory-resident state for one
// enrollment connection (§3).
type EnrollmentSession struct {
	speakerID   string
	speakerName string
	prompts     [5]string
	setIndex    int
	retryCount  int
	accumulator map[byte][][]float32 // digit -> ordered embeddings collected so far
	pendingPIN  *gallery.PINDigest

	state enrollmentState
}

func newEnrollmentSession(speakerID, speakerName string, prompts [5]string) *EnrollmentSession {
	acc := make(map[byte][][]float32, len(gallery.Digits))
	for _, d := range []byte(gallery.Digits) {
		acc[d] = nil
	}
	return &EnrollmentSession{
		speakerID:   speakerID,
		speakerName: speakerName,
		prompts:     prompts,
		accumulator: acc,
		state:       stateAwaitingAudio,
	}
}

// verifyMode is the tagged state of the verification state machine (§4.9).
type verifyMode int

const (
	modeAwaitingAudio verifyMode = iota
	modeAwaitingPIN
	modeTerminal
)

// VerificationSession is the transient state for one verification
// connection (§3).
type VerificationSession struct {
	speakerID string
	prompt    string
	mode      verifyMode
}

func newVerificationSession(speakerID, prompt string) *VerificationSession {
	return &VerificationSession{speakerID: speakerID, prompt: prompt, mode: modeAwaitingAudio}
}
