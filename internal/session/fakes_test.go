package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/askid/voiceauth/internal/pipeline"
)

// digitEngine is a deterministic all-in-one pipeline test double. The
// "audio" a test sends is just the ASCII digit string the synthetic
// speaker is made to utter; Decode encodes each digit as a constant
// amplitude over its slot, and Embed reads the slot's midpoint sample
// back out to recover which digit a padded slice belongs to. Padding
// never reaches past a slot's midpoint (padding ≤ 0.1s, slot = 0.3s),
// so this is robust to the segmenter's padding window.
type digitEngine struct {
	mu      sync.Mutex
	lastLen int
}

const samplesPerDigit = int(0.3 * pipeline.SampleRate)

func (e *digitEngine) Decode(ctx context.Context, blob []byte) (pipeline.PCM, error) {
	digits := string(blob)
	samples := make(pipeline.PCM, len(digits)*samplesPerDigit)
	for i, ch := range digits {
		amp := float32(ch-'0'+1) / 10.0
		for j := 0; j < samplesPerDigit; j++ {
			samples[i*samplesPerDigit+j] = amp
		}
	}
	return samples, nil
}

func (e *digitEngine) Detect(ctx context.Context, samples pipeline.PCM) (pipeline.VADResult, error) {
	return pipeline.VADResult{HasSpeech: len(samples) > 0, Region: pipeline.SpeechRegion{EndSample: len(samples)}}, nil
}

func (e *digitEngine) Transcribe(ctx context.Context, samples pipeline.PCM) (pipeline.Transcript, error) {
	n := len(samples) / samplesPerDigit
	digits := make([]byte, n)
	for i := 0; i < n; i++ {
		mid := i*samplesPerDigit + samplesPerDigit/2
		amp := samples[mid]
		digits[i] = byte(int(amp*10+0.5)-1) + '0'
	}
	return pipeline.MakeDigitTranscript(string(digits), 0.3), nil
}

func (e *digitEngine) Embed(ctx context.Context, samples pipeline.PCM) ([]float32, error) {
	vec := make([]float32, pipeline.EmbeddingDim)
	if len(samples) == 0 {
		return vec, nil
	}
	mid := len(samples) / 2
	digit := int(samples[mid]*10+0.5) - 1
	if digit >= 0 && digit < 10 {
		vec[digit] = 1.0
	}
	return vec, nil
}

func newDigitPool() *pipeline.Pool {
	e := &digitEngine{}
	return pipeline.NewPool([]*pipeline.Handle{{VAD: e, ASR: e, Embedding: e}})
}

// fakeConn is an in-memory session.Conn test double: inbound frames
// are popped from a fixed script, outbound messages are recorded.
type fakeConn struct {
	mu     sync.Mutex
	inbox  []Frame
	idx    int
	sent   []Message
	closed bool
}

func newFakeConn(frames ...Frame) *fakeConn {
	return &fakeConn{inbox: frames}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.inbox) {
		return Frame{}, context.Canceled
	}
	f := c.inbox[c.idx]
	c.idx++
	return f, nil
}

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messagesOfType(t string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func audioFrame(digits string) Frame { return Frame{Audio: []byte(digits)} }
func msgFrame(m Message) Frame       { return Frame{Message: &m} }

// scriptedConn is an interactive session.Conn test double for tests
// that must react to what the session sends (e.g. echoing the
// randomly-drawn enrollment prompts back as matching audio) rather
// than replaying a fixed script. feed blocks until the session's next
// ReadFrame call consumes it, which keeps the test goroutine and the
// session goroutine in lockstep without extra synchronization.
type scriptedConn struct {
	mu     sync.Mutex
	sent   []Message
	closed bool
	in     chan Frame
	events chan Message
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{in: make(chan Frame), events: make(chan Message, 64)}
}

func (c *scriptedConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *scriptedConn) Send(msg Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.events <- msg
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) feed(f Frame) { c.in <- f }

func (c *scriptedConn) awaitPrompts(t *testing.T) []string {
	t.Helper()
	for {
		select {
		case m := <-c.events:
			if m.Type == TypePrompts {
				if len(m.Prompts) != 5 {
					t.Fatalf("prompts message carried %d prompts, want 5", len(m.Prompts))
				}
				return m.Prompts
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for prompts message")
		}
	}
}

func (c *scriptedConn) awaitPrompt(t *testing.T) string {
	t.Helper()
	for {
		select {
		case m := <-c.events:
			if m.Type == TypePrompt {
				return m.Prompt
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for prompt message")
		}
	}
}

func (c *scriptedConn) awaitVerifyResult(t *testing.T) Message {
	t.Helper()
	for {
		select {
		case m := <-c.events:
			if m.Type == TypeVerifyResult {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for verify_result message")
		}
	}
}

func (c *scriptedConn) messagesOfType(t string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

