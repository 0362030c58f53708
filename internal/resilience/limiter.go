package resilience

import (
	"sync"

	"golang.org/x/time/rate"
)

// SourceLimiter throttles outbound probe invocations per source, grounded
// on TokenBucketLimiter in scheduler/limiter.go: a lazily created
// rate.Limiter per key guarded by a single mutex.
type SourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewSourceLimiter creates a limiter allowing r invocations per second per
// source, with the given burst.
func NewSourceLimiter(r float64, burst int) *SourceLimiter {
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

func (l *SourceLimiter) limiterFor(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[source]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[source] = lim
	}
	return lim
}

// Allow reports whether source may dispatch a probe invocation right now.
func (l *SourceLimiter) Allow(source string) bool {
	return l.limiterFor(source).Allow()
}
