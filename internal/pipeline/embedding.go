package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbeddingConfig configures the speaker-embedding ONNX model.
type ONNXEmbeddingConfig struct {
	ModelPath string
	Mel       MelConfig
}

// DefaultONNXEmbeddingConfig returns the reference mel front-end
// configuration paired with the given model path.
func DefaultONNXEmbeddingConfig(modelPath string) ONNXEmbeddingConfig {
	return ONNXEmbeddingConfig{ModelPath: modelPath, Mel: DefaultMelConfig()}
}

// ONNXEmbeddingExtractor maps a PCM slice to a 192-dimensional vector
// using an ONNX speaker-embedding model over a log-mel front end,
// following the reference encoder's architecture. Not safe for
// concurrent use; callers must check instances out of a pool (see
// pool.go).
type ONNXEmbeddingExtractor struct {
	config  ONNXEmbeddingConfig
	session *ort.DynamicAdvancedSession
	mel     *MelProcessor
	mu      sync.Mutex
}

// NewONNXEmbeddingExtractor loads the ONNX graph at config.ModelPath.
func NewONNXEmbeddingExtractor(config ONNXEmbeddingConfig) (*ONNXEmbeddingExtractor, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("embedding model not found: %w", err)
	}
	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("model info: %w", err)
	}
	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("new onnx session: %w", err)
	}

	return &ONNXEmbeddingExtractor{
		config:  config,
		session: session,
		mel:     NewMelProcessor(config.Mel),
	}, nil
}

func (e *ONNXEmbeddingExtractor) Embed(ctx context.Context, samples PCM) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(samples) < e.config.Mel.SampleRate/10 {
		return nil, fmt.Errorf("audio slice too short for embedding")
	}

	melSpec, numFrames := e.mel.Compute(samples)

	flat := make([]float32, numFrames*e.config.Mel.NMels)
	for t := 0; t < numFrames; t++ {
		copy(flat[t*e.config.Mel.NMels:(t+1)*e.config.Mel.NMels], melSpec[t])
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(numFrames), int64(e.config.Mel.NMels)), flat)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	raw := outputs[0].(*ort.Tensor[float32]).GetData()
	embedding := make([]float32, len(raw))
	copy(embedding, raw)
	return embedding, nil
}

func (e *ONNXEmbeddingExtractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}

// L2Normalize divides v by its Euclidean norm so ||v|| = 1. A
// near-zero vector is returned unchanged to avoid division by zero.
func L2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 1e-12 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := float32(1.0 / sqrtF(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// CosineSimilarity computes the dot product of two L2-normalized
// vectors. Callers are responsible for normalizing; this function does
// not clamp or re-normalize (per the no-clamping rule in §4.9).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
