package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SileroVADConfig configures the Silero VAD ONNX graph.
type SileroVADConfig struct {
	ModelPath            string
	Threshold            float32
	MinSilenceDurationMs int
	SpeechPadMs          int
	MinSpeechDurationMs  int
}

// DefaultSileroVADConfig returns the reference tuning.
func DefaultSileroVADConfig(modelPath string) SileroVADConfig {
	return SileroVADConfig{
		ModelPath:            modelPath,
		Threshold:            0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
		MinSpeechDurationMs:  150,
	}
}

// SileroVAD runs the Silero voice-activity-detection ONNX model,
// carrying LSTM state and a rolling sample-context window across
// windowed calls, mirroring the reference engine's own Silero wrapper.
type SileroVAD struct {
	session *ort.DynamicAdvancedSession
	config  SileroVADConfig

	state   []float32
	context []float32

	mu sync.Mutex
}

// NewSileroVAD loads the ONNX graph at config.ModelPath.
func NewSileroVAD(config SileroVADConfig) (*SileroVAD, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("vad model not found: %w", err)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("new onnx session: %w", err)
	}

	return &SileroVAD{
		session: session,
		config:  config,
		state:   make([]float32, 2*1*128),
		context: make([]float32, 64),
	}, nil
}

func (v *SileroVAD) resetState() {
	for i := range v.state {
		v.state[i] = 0
	}
	for i := range v.context {
		v.context[i] = 0
	}
}

const sileroWindowSize = 512 // 32ms at 16kHz

func (v *SileroVAD) processChunk(samples []float32) (float32, error) {
	contextSize := len(v.context)
	input := make([]float32, contextSize+len(samples))
	copy(input[:contextSize], v.context)
	copy(input[contextSize:], samples)

	if len(samples) >= contextSize {
		copy(v.context, samples[len(samples)-contextSize:])
	} else {
		copy(v.context, v.context[len(samples):])
		copy(v.context[contextSize-len(samples):], samples)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, err
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), v.state)
	if err != nil {
		return 0, err
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{SampleRate})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := v.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, err
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	prob := outputs[0].(*ort.Tensor[float32]).GetData()
	stateN := outputs[1].(*ort.Tensor[float32]).GetData()
	copy(v.state, stateN)

	if len(prob) == 0 {
		return 0, nil
	}
	return prob[0], nil
}

// Detect scans samples window-by-window and reports whether speech was
// found, trimming to the first/last speech window plus configured pad.
func (v *SileroVAD) Detect(ctx context.Context, samples PCM) (VADResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetState()

	windowMs := float64(sileroWindowSize) * 1000 / SampleRate
	padWindows := int(float64(v.config.SpeechPadMs) / windowMs)

	firstSpeech, lastSpeech := -1, -1
	for i := 0; i < len(samples); i += sileroWindowSize {
		select {
		case <-ctx.Done():
			return VADResult{}, ctx.Err()
		default:
		}

		end := i + sileroWindowSize
		var chunk []float32
		if end <= len(samples) {
			chunk = samples[i:end]
		} else {
			chunk = make([]float32, sileroWindowSize)
			copy(chunk, samples[i:])
		}

		prob, err := v.processChunk(chunk)
		if err != nil {
			return VADResult{}, err
		}
		if prob >= v.config.Threshold {
			window := i / sileroWindowSize
			if firstSpeech < 0 {
				firstSpeech = window
			}
			lastSpeech = window
		}
	}

	if firstSpeech < 0 {
		return VADResult{HasSpeech: false}, nil
	}

	start := (firstSpeech - padWindows) * sileroWindowSize
	if start < 0 {
		start = 0
	}
	end := (lastSpeech + 1 + padWindows) * sileroWindowSize
	if end > len(samples) {
		end = len(samples)
	}

	return VADResult{
		HasSpeech: true,
		Region:    SpeechRegion{StartSample: start, EndSample: end},
	}, nil
}

func (v *SileroVAD) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
}

// EnergyVAD is a dependency-free fallback used in tests and in
// deployments with no VAD model configured. It flags speech whenever
// the RMS energy of the buffer exceeds a fixed threshold, trimming
// leading/trailing silence at a coarse frame granularity.
type EnergyVAD struct {
	Threshold float32
	FrameSize int
}

// NewEnergyVAD returns an EnergyVAD with reasonable defaults.
func NewEnergyVAD() *EnergyVAD {
	return &EnergyVAD{Threshold: 0.01, FrameSize: 320}
}

func (v *EnergyVAD) Detect(ctx context.Context, samples PCM) (VADResult, error) {
	select {
	case <-ctx.Done():
		return VADResult{}, ctx.Err()
	default:
	}

	frameSize := v.FrameSize
	if frameSize <= 0 {
		frameSize = 320
	}

	firstSpeech, lastSpeech := -1, -1
	for i := 0; i < len(samples); i += frameSize {
		end := i + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		var sumSq float64
		for _, s := range samples[i:end] {
			sumSq += float64(s) * float64(s)
		}
		rms := float32(0)
		if end > i {
			rms = float32(sqrtF(sumSq / float64(end-i)))
		}
		if rms >= v.Threshold {
			frame := i / frameSize
			if firstSpeech < 0 {
				firstSpeech = frame
			}
			lastSpeech = frame
		}
	}

	if firstSpeech < 0 {
		return VADResult{HasSpeech: false}, nil
	}

	start := firstSpeech * frameSize
	end := (lastSpeech + 1) * frameSize
	if end > len(samples) {
		end = len(samples)
	}
	return VADResult{HasSpeech: true, Region: SpeechRegion{StartSample: start, EndSample: end}}, nil
}
