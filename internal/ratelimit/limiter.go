// Package ratelimit implements the connector's multi-endpoint rate
// limiter: one reservoir per endpoint key, refilled on a fixed 60s
// cadence, a minimum inter-arrival spacing derived from the endpoint's
// burst budget, and a bounded-concurrency gate, all queued strictly FIFO
// per key (§4.1).
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
)

// maxConcurrentPerKey is the hard per-endpoint in-flight cap from §3.
const maxConcurrentPerKey = 20

// refillPeriod is the reservoir's absolute refresh cadence from §4.1.
const refillPeriod = 60 * time.Second

// ticket is one caller's place in a Limiter's FIFO queue.
type ticket struct {
	ctx   context.Context
	ready chan error
}

// Limiter paces calls against a single endpoint key.
type Limiter struct {
	key    klaviyo.EndpointKey
	budget klaviyo.Budget

	minInterArrival time.Duration
	sem             chan struct{}

	mu           sync.Mutex
	queue        *list.List
	nonEmpty     chan struct{}
	tokens       int
	nextRefillAt time.Time
	lastDispatch time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newLimiter(key klaviyo.EndpointKey, budget klaviyo.Budget) *Limiter {
	l := &Limiter{
		key:             key,
		budget:          budget,
		minInterArrival: time.Duration(float64(time.Second) * 1.25 / float64(budget.Burst)),
		sem:             make(chan struct{}, maxConcurrentPerKey),
		queue:           list.New(),
		nonEmpty:        make(chan struct{}, 1),
		tokens:          budget.Steady,
		nextRefillAt:    time.Now().Add(refillPeriod),
		closed:          make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

// schedule enqueues ctx's caller and blocks until it is dispatched
// (nil error) or abandons its place (ctx's error).
func (l *Limiter) schedule(ctx context.Context) error {
	t := &ticket{ctx: ctx, ready: make(chan error, 1)}

	l.mu.Lock()
	l.queue.PushBack(t)
	select {
	case l.nonEmpty <- struct{}{}:
	default:
	}
	l.mu.Unlock()

	select {
	case err := <-t.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release returns the in-flight slot acquired by a successful schedule.
func (l *Limiter) release() {
	<-l.sem
}

func (l *Limiter) dispatchLoop() {
	for {
		t := l.nextTicket()
		if t == nil {
			return // closed
		}

		if t.ctx.Err() != nil {
			trySend(t.ready, t.ctx.Err())
			continue
		}

		if err := l.waitForPacing(t.ctx); err != nil {
			trySend(t.ready, err)
			continue
		}

		select {
		case l.sem <- struct{}{}:
		case <-t.ctx.Done():
			trySend(t.ready, t.ctx.Err())
			continue
		case <-l.closed:
			return
		}

		l.mu.Lock()
		l.tokens--
		l.lastDispatch = time.Now()
		l.mu.Unlock()

		trySend(t.ready, nil)
	}
}

// waitForPacing blocks until the reservoir and min-inter-arrival
// constraints allow the next dispatch, or ctx is cancelled first.
func (l *Limiter) waitForPacing(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if !now.Before(l.nextRefillAt) {
			periods := now.Sub(l.nextRefillAt)/refillPeriod + 1
			l.nextRefillAt = l.nextRefillAt.Add(periods * refillPeriod)
			l.tokens = l.budget.Steady
		}

		var wait time.Duration
		switch {
		case l.tokens <= 0:
			wait = l.nextRefillAt.Sub(now)
		case !l.lastDispatch.IsZero() && now.Sub(l.lastDispatch) < l.minInterArrival:
			wait = l.minInterArrival - now.Sub(l.lastDispatch)
		}
		l.mu.Unlock()

		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.closed:
			timer.Stop()
			return context.Canceled
		}
	}
}

// nextTicket pops the front of the FIFO queue, blocking until one is
// available or the limiter is closed.
func (l *Limiter) nextTicket() *ticket {
	for {
		l.mu.Lock()
		if el := l.queue.Front(); el != nil {
			l.queue.Remove(el)
			l.mu.Unlock()
			return el.Value.(*ticket)
		}
		l.mu.Unlock()

		select {
		case <-l.nonEmpty:
		case <-l.closed:
			return nil
		}
	}
}

func (l *Limiter) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func trySend(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
