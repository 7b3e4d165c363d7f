package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
)

// Registry holds one Limiter per endpoint key, created lazily on first use
// per §4.1 and §3 ("one per endpoint key, lazy-created").
type Registry struct {
	mu       sync.Mutex
	limiters map[klaviyo.EndpointKey]*Limiter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[klaviyo.EndpointKey]*Limiter)}
}

func (r *Registry) limiterFor(key klaviyo.EndpointKey) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := newLimiter(key, klaviyo.Lookup(key))
	r.limiters[key] = l
	return l
}

// Close stops every limiter's dispatch loop. Call once, at process
// teardown, after all in-flight Schedule calls have returned.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.limiters {
		l.close()
	}
}

// Schedule runs fn once this caller's turn comes up on key's limiter,
// honoring its reservoir, pacing and concurrency budget. A cancelled ctx
// abandons the caller's place in the FIFO queue without consuming a
// reservoir token or a concurrency slot.
func Schedule[T any](ctx context.Context, r *Registry, key klaviyo.EndpointKey, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	l := r.limiterFor(key)

	if err := l.schedule(ctx); err != nil {
		return zero, fmt.Errorf("ratelimit: %s: %w", key, err)
	}
	defer l.release()

	return fn(ctx)
}
