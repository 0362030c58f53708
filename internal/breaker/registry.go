package breaker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dossie-intel/core/internal/observability"
	"github.com/dossie-intel/core/internal/store"
)

// redisOpTimeout bounds every write-behind/load-on-use Redis round trip the
// registry makes on its own, internally-managed background context -- a
// slow or unreachable Redis degrades breaker durability, not admission
// latency.
const redisOpTimeout = 2 * time.Second

// Registry owns one Breaker per source, matching the mutex-guarded map of
// per-key state structs pattern used by scheduler.nodeHealth.
type Registry struct {
	mu       sync.Mutex
	breakers map[store.Source]*Breaker

	threshold     int
	recoveryAfter time.Duration

	redisClient *redis.Client
}

// NewRegistry creates a registry; every source gets the same threshold and
// recovery window -- that configuration is process-global, not per-source,
// though the Breaker type itself would allow per-source overrides if ever
// needed.
func NewRegistry(threshold int, recoveryAfter time.Duration) *Registry {
	return &Registry{
		breakers:      make(map[store.Source]*Breaker),
		threshold:     threshold,
		recoveryAfter: recoveryAfter,
	}
}

// WithRedis switches the registry to persist every breaker's state to
// Redis on each mutation, and to lazily reload that state the first time a
// source's breaker is touched in this process. Call before the registry
// serves its first request.
func (r *Registry) WithRedis(client *redis.Client) *Registry {
	r.redisClient = client
	return r
}

func (r *Registry) get(source store.Source) *Breaker {
	r.mu.Lock()
	b, ok := r.breakers[source]
	if !ok {
		b = New(r.threshold, r.recoveryAfter)
		r.breakers[source] = b
	}
	r.mu.Unlock()

	if !ok {
		r.load(source, b)
	}
	return b
}

func (r *Registry) load(source store.Source, b *Breaker) {
	if r.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	fields, err := r.redisClient.HGetAll(ctx, store.BreakerKey(source)).Result()
	if err != nil {
		log.Printf("breaker: failed to load persisted state for %s: %v", source, err)
		return
	}
	b.restore(fields)
	observability.CircuitBreakerState.WithLabelValues(string(source)).Set(stateValue(b.IsOpen()))
}

func (r *Registry) persist(source store.Source, b *Breaker) {
	if r.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.redisClient.HSet(ctx, store.BreakerKey(source), b.fields()).Err(); err != nil {
		log.Printf("breaker: failed to persist state for %s: %v", source, err)
	}
}

func stateValue(open bool) float64 {
	if open {
		return 1
	}
	return 0
}

// IsOpen reports whether source's breaker currently refuses admission.
func (r *Registry) IsOpen(source store.Source) bool {
	return r.get(source).IsOpen()
}

// RecordSuccess clears source's failure streak.
func (r *Registry) RecordSuccess(source store.Source) {
	b := r.get(source)
	b.RecordSuccess()
	observability.CircuitBreakerState.WithLabelValues(string(source)).Set(stateValue(b.IsOpen()))
	r.persist(source, b)
}

// RecordFailure records a failure for source, returning true the first
// time this crosses the threshold (the caller should publish
// circuit_breaker_opened exactly once for that transition).
func (r *Registry) RecordFailure(source store.Source) bool {
	b := r.get(source)
	newlyOpened := b.RecordFailure()
	observability.CircuitBreakerState.WithLabelValues(string(source)).Set(stateValue(b.IsOpen()))
	if newlyOpened {
		observability.CircuitBreakerTrips.WithLabelValues(string(source)).Inc()
	}
	r.persist(source, b)
	return newlyOpened
}

// Snapshot returns source's breaker state for the read-only
// circuit_breaker(source) administrative operation.
func (r *Registry) Snapshot(source store.Source) Snapshot {
	return r.get(source).Snapshot()
}
