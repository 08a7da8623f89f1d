package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperASR wraps a whisper.cpp model, following the reference
// engine's own wrapping style: one mutex-guarded handle, beam search
// with deterministic (zero) temperature, and token-level timestamps
// turned on so the segmenter can slice per digit.
type WhisperASR struct {
	model    whisper.Model
	language string
	mu       sync.Mutex
}

// NewWhisperASR loads a whisper.cpp ggml model from modelPath.
func NewWhisperASR(modelPath, language string) (*WhisperASR, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("asr model not found: %w", err)
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	if language == "" {
		language = "ja"
	}
	return &WhisperASR{model: model, language: language}, nil
}

func (w *WhisperASR) Transcribe(ctx context.Context, samples PCM) (Transcript, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	default:
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: new context: %v", ErrASRFailed, err)
	}

	if err := wctx.SetLanguage(w.language); err != nil {
		_ = wctx.SetLanguage("auto")
	}
	wctx.SetTranslate(false)
	wctx.SetBeamSize(5)
	wctx.SetTemperature(0.0)
	wctx.SetTemperatureFallback(0.2)
	wctx.SetMaxTokensPerSegment(32)
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process([]float32(samples), nil, nil, nil); err != nil {
		return Transcript{}, fmt.Errorf("%w: process: %v", ErrASRFailed, err)
	}

	var text []string
	var tokens []Token
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		if seg.Text != "" {
			text = append(text, seg.Text)
		}
		for _, tok := range seg.Tokens {
			tokens = append(tokens, Token{
				Text:  tok.Text,
				Start: tok.Start.Seconds(),
				End:   tok.End.Seconds(),
			})
		}
	}

	joined := ""
	for i, t := range text {
		if i > 0 {
			joined += " "
		}
		joined += t
	}

	return Transcript{Text: joined, Tokens: tokens}, nil
}

func (w *WhisperASR) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if closer, ok := w.model.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// FakeASR is a deterministic ASR test double that echoes planted
// transcripts (Script entries in order, then Fixed) without looking at
// the input samples, satisfying the ASR capability interface for
// session-level unit tests (per §9's design note on explicit capability
// interfaces).
type FakeASR struct {
	// Script, if non-empty, is popped one entry per call to Transcribe.
	Script []Transcript
	// Fixed is used once Script is exhausted (or always, if Script is nil).
	Fixed Transcript

	mu    sync.Mutex
	calls int
}

func NewFakeASR(digits string) *FakeASR {
	return &FakeASR{Fixed: MakeDigitTranscript(digits, 0.3)}
}

func (f *FakeASR) Transcribe(ctx context.Context, samples PCM) (Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	default:
	}

	if f.calls < len(f.Script) {
		t := f.Script[f.calls]
		f.calls++
		return t, nil
	}
	f.calls++
	return f.Fixed, nil
}

// MakeDigitTranscript builds a synthetic Transcript for a digit string
// where each digit occupies a perDigit-second slot, for use by FakeASR
// and by tests.
func MakeDigitTranscript(digits string, perDigit float64) Transcript {
	t := Transcript{Text: digits}
	for i, r := range digits {
		start := float64(i) * perDigit
		t.Tokens = append(t.Tokens, Token{
			Text:  string(r),
			Start: start,
			End:   start + perDigit,
		})
	}
	return t
}
