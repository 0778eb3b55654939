package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterCapacity = 10000
	sweepInterval          = 5 * time.Minute
	limiterIdleTimeout     = 30 * time.Minute
)

// RateLimiter applies a per-identifier token bucket, usually keyed by client
// IP. The identifier space is attacker-controlled, so the tracked set is
// capped: at capacity the least recently seen bucket is dropped, and a
// background sweep reclaims buckets idle past limiterIdleTimeout.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*list.Element
	order    *list.List // front = most recently seen
	rps      int
	burst    int
	capacity int
	logger   *slog.Logger
	done     chan struct{}
}

type bucket struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter tracking at most defaultLimiterCapacity
// identifiers. Callers must Stop it to release the sweep goroutine.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithCapacity(requestsPerSecond, burst, defaultLimiterCapacity, logger)
}

// NewRateLimiterWithCapacity is NewRateLimiter with an explicit cap on the
// number of tracked identifiers. Zero capacity disables the cap.
func NewRateLimiterWithCapacity(requestsPerSecond, burst, capacity int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 0 {
		capacity = defaultLimiterCapacity
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*list.Element),
		order:    list.New(),
		rps:      requestsPerSecond,
		burst:    burst,
		capacity: capacity,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request for the identifier fits its bucket.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[identifier]; ok {
		rl.order.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = time.Now()
		return b.limiter.Allow()
	}

	if rl.capacity > 0 && len(rl.buckets) >= rl.capacity {
		rl.evictOldest()
	}

	b := &bucket{
		key:      identifier,
		limiter:  rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		lastSeen: time.Now(),
	}
	rl.buckets[identifier] = rl.order.PushFront(b)
	return b.limiter.Allow()
}

// evictOldest drops the least recently seen bucket. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.order.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	delete(rl.buckets, b.key)
	rl.order.Remove(elem)

	rl.logger.Debug("Rate limit bucket evicted",
		"identifier", b.key,
		"tracked", len(rl.buckets))
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep(limiterIdleTimeout)
		case <-rl.done:
			return
		}
	}
}

// Sweep drops buckets that have been idle longer than maxIdle.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0

	var next *list.Element
	for elem := rl.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		b := elem.Value.(*bucket)
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, b.key)
			rl.order.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Rate limit sweep",
			"removed", removed,
			"remaining", len(rl.buckets))
	}
}

// Tracked returns the number of identifiers currently holding a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop terminates the background sweep. The limiter must not be used after.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}
