package mocks

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/content-store-api/internal/search"
)

// ErrEmbedderDown is returned by a failing MockEmbedder
var ErrEmbedderDown = errors.New("embedding service unavailable")

// MockEmbedder produces deterministic bag-of-words vectors: texts sharing
// words end up close in cosine distance.
type MockEmbedder struct {
	Dims      int
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu      sync.Mutex
	failing bool
	calls   atomic.Int64
}

// Verify interface compliance
var _ search.Embedder = (*MockEmbedder)(nil)

func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{Dims: dims}
}

// SetFailing toggles failure of every call
func (m *MockEmbedder) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Calls returns the number of Embed calls
func (m *MockEmbedder) Calls() int64 {
	return m.calls.Load()
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	m.mu.Lock()
	failing := m.failing
	m.mu.Unlock()
	if failing {
		return nil, ErrEmbedderDown
	}
	return HashVector(text, m.Dims), nil
}

// HashVector hashes each token of text into a bucket and normalises
func HashVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, tok := range search.Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

// FakeClock is a settable clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
