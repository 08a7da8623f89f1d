package pipeline

import (
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var onnxInit sync.Once
var onnxInitErr error

// initONNXRuntime lazily initializes the shared ONNX Runtime library.
// Both the VAD and the embedding extractor call this; the underlying
// library load only happens once per process.
func initONNXRuntime() error {
	onnxInit.Do(func() {
		if ort.IsInitialized() {
			return
		}
		onnxInitErr = ort.InitializeEnvironment()
	})
	return onnxInitErr
}

func sqrtF(x float64) float64 {
	return math.Sqrt(x)
}
