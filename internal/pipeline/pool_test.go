package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopEngine struct{}

func (noopEngine) Detect(ctx context.Context, samples PCM) (VADResult, error) {
	return VADResult{HasSpeech: true}, nil
}
func (noopEngine) Transcribe(ctx context.Context, samples PCM) (Transcript, error) {
	return Transcript{}, nil
}
func (noopEngine) Embed(ctx context.Context, samples PCM) ([]float32, error) { return nil, nil }

func TestPoolSerializesAccessPerHandle(t *testing.T) {
	e := noopEngine{}
	pool := NewPool([]*Handle{{VAD: e, ASR: e, Embedding: e}})

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func(h *Handle) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				_, _ = h.VAD.Detect(context.Background(), nil)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "pool of size 1 must never run two callers concurrently")
}

func TestPoolDoAbortsOnCancelledContext(t *testing.T) {
	e := noopEngine{}
	pool := NewPool([]*Handle{{VAD: e, ASR: e, Embedding: e}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := pool.Do(ctx, func(h *Handle) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
