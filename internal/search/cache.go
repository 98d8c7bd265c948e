package search

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/content-store-api/internal/metrics"
)

// CacheOptions configures CachedEmbedder
type CacheOptions struct {
	Size      int           // LRU entries, 0 disables caching
	RateLimit float64       // requests per second to the inner embedder, 0 = unlimited
	MaxChars  int           // text is truncated to this many runes, 0 = no limit
	Timeout   time.Duration // per request, 0 = none
}

// CachedEmbedder wraps an Embedder with truncation, an LRU cache, request
// coalescing and rate limiting
type CachedEmbedder struct {
	inner   Embedder
	opts    CacheOptions
	cache   *lru
	group   singleflight.Group
	limiter *rate.Limiter
}

// NewCachedEmbedder wraps inner
func NewCachedEmbedder(inner Embedder, opts CacheOptions) *CachedEmbedder {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &CachedEmbedder{
		inner:   inner,
		opts:    opts,
		cache:   newLRU(opts.Size),
		limiter: limiter,
	}
}

// Embed returns the cached vector for text or computes it
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, c.opts.MaxChars)
	key := cacheKey(text)

	if v, ok := c.cache.get(key); ok {
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.EmbeddingCache.WithLabelValues("miss").Inc()

	// The call is shared by every waiter on key, so one caller giving up
	// must not fail the others. Each caller's ctx only bounds its own wait.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.opts.Timeout)
			defer cancel()
		}
		if err := c.limiter.Wait(callCtx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
		v, err := c.inner.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		c.cache.add(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

// Len returns the number of cached vectors
func (c *CachedEmbedder) Len() int {
	return c.cache.len()
}

// Truncate cuts text to at most max runes. max <= 0 leaves text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type lruEntry struct {
	key   string
	value []float32
}

// lru is a fixed-size least-recently-used map
type lru struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

func newLRU(size int) *lru {
	return &lru{size: size, order: list.New(), items: make(map[string]*list.Element)}
}

func (l *lru) get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (l *lru) add(key string, value []float32) {
	if l.size <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		el.Value.(*lruEntry).value = value
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(&lruEntry{key: key, value: value})
	for l.order.Len() > l.size {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruEntry).key)
	}
}

func (l *lru) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
