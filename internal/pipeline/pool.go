package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Handle bundles the three not-thread-safe inference handles a single
// worker owns for its lifetime: VAD, ASR, and embedding extractor. Per
// §9's design note, a handle is never shared across goroutines; it is
// checked out of the pool for the duration of one pipeline call and
// checked back in afterward.
type Handle struct {
	VAD       VAD
	ASR       ASR
	Embedding EmbeddingExtractor
}

// Pool is a bounded worker pool for CPU-bound pipeline stages (ASR and
// embedding extraction), shared by every active session. Back-pressure
// comes from the pool's fixed handle count: once every handle is
// checked out, new callers block in Acquire rather than growing the
// pool, per §5.
type Pool struct {
	sem     *semaphore.Weighted
	handles chan *Handle
	size    int64
}

// NewPool builds a pool from a pre-constructed set of handles, one per
// worker. size is derived from len(handles); pass one Handle per
// physical core you want dedicated to pipeline work.
func NewPool(handles []*Handle) *Pool {
	ch := make(chan *Handle, len(handles))
	for _, h := range handles {
		ch <- h
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(len(handles))),
		handles: ch,
		size:    int64(len(handles)),
	}
}

// Size returns the configured pool capacity.
func (p *Pool) Size() int64 { return p.size }

// Do runs fn with an exclusively-owned Handle, blocking until one is
// available or ctx is cancelled. A cancelled ctx aborts before fn is
// invoked and never checks out a handle.
func (p *Pool) Do(ctx context.Context, fn func(*Handle) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pool: acquire: %w", err)
	}
	defer p.sem.Release(1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	h := <-p.handles
	defer func() { p.handles <- h }()

	return fn(h)
}

// Close releases every handle's underlying resources. Callers must
// ensure no in-flight Do calls remain.
func (p *Pool) Close() {
	close(p.handles)
	for h := range p.handles {
		if closer, ok := h.VAD.(interface{ Close() }); ok {
			closer.Close()
		}
		if closer, ok := h.Embedding.(interface{ Close() }); ok {
			closer.Close()
		}
		if closer, ok := h.ASR.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
