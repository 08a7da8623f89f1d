package pipeline

import "errors"

// Sentinel errors surfaced by pipeline stages. The session layer maps
// these to client-visible error codes; raw error text never crosses
// the wire.
var (
	ErrDecode               = errors.New("pipeline: decode error")
	ErrInvalidAudio         = errors.New("pipeline: invalid audio")
	ErrASRFailed            = errors.New("pipeline: asr failed")
	ErrSegmentationMismatch = errors.New("pipeline: segmentation failed")
)

// MinDurationSeconds and MaxDurationSeconds bound accepted utterance length, in seconds.
const (
	MinDurationSeconds = 1.0
	MaxDurationSeconds = 10.0
)
