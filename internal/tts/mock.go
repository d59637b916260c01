package tts

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dgnsrekt/articast/internal/config"
)

// MockEngine implements Engine for testing and for running the server
// without a provider key. It produces deterministic pseudo-MP3 bytes
// proportional to the input length.
type MockEngine struct {
	delay        time.Duration
	bytesPerChar int
	failureRate  float64

	mu        sync.Mutex
	callCount int
	failNext  error
}

// NewMockEngine creates a mock engine from configuration.
func NewMockEngine(cfg config.MockConfig) *MockEngine {
	bpc := cfg.BytesPerChar
	if bpc <= 0 {
		bpc = 4
	}
	return &MockEngine{
		delay:        cfg.GenerationDelay,
		bytesPerChar: bpc,
		failureRate:  cfg.FailureRate,
	}
}

// Name identifies the engine in logs.
func (e *MockEngine) Name() string { return "mock" }

// Synthesize produces fake audio bytes for the given text.
func (e *MockEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if len(text) > MaxChunkChars {
		return nil, ErrTextTooLong
	}

	e.mu.Lock()
	e.callCount++
	failNext := e.failNext
	e.failNext = nil
	e.mu.Unlock()

	if failNext != nil {
		return nil, failNext
	}
	if e.failureRate > 0 && rand.Float64() < e.failureRate {
		return nil, context.DeadlineExceeded
	}

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]byte, len(text)*e.bytesPerChar)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out, nil
}

// FailNext makes the next Synthesize call return err. Test hook.
func (e *MockEngine) FailNext(err error) {
	e.mu.Lock()
	e.failNext = err
	e.mu.Unlock()
}

// CallCount reports how many times Synthesize was invoked.
func (e *MockEngine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// Ensure MockEngine implements the Engine interface.
var _ Engine = (*MockEngine)(nil)
