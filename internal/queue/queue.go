package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/observability"
	"github.com/dossie-intel/core/internal/store"
)

// ErrAdmissionRefused is returned by Enqueue when the source's circuit
// breaker is open.
var ErrAdmissionRefused = errors.New("queue: admission refused, circuit breaker open")

// bandStore is one (source, priority) FIFO. memBand backs it with an
// in-process list for the memory store and for tests; redisBand backs it
// with a Redis sorted set so a queued task's band placement survives a
// process restart when the Task Record Store is Redis.
type bandStore interface {
	push(ctx context.Context, id string) error
	pop(ctx context.Context) (string, bool, error)
	// remove reports whether id was actually present and removed.
	remove(ctx context.Context, id string) (bool, error)
	len(ctx context.Context) (int, error)
}

// entry is one queued task id, scored by enqueue time for FIFO ordering
// within a band.
type entry struct {
	taskID     string
	enqueuedAt time.Time
}

// memBand is a single (source, priority) FIFO -- a list.List gives O(1)
// push-back and pop-front, matching the "lowest score wins, ties by FIFO"
// ordering this queue requires. This replaces the aging min-heap in
// scheduler.TaskQueue.Less, which deliberately is NOT reused here: strict
// priority dominance forbids the effective-priority aging formula that
// min-heap applies.
type memBand struct {
	mu    sync.Mutex
	items *list.List
	index map[string]*list.Element
}

func newMemBand() *memBand {
	return &memBand{items: list.New(), index: make(map[string]*list.Element)}
}

func (b *memBand) push(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.index[id]; exists {
		return nil
	}
	el := b.items.PushBack(entry{taskID: id, enqueuedAt: time.Now()})
	b.index[id] = el
	return nil
}

func (b *memBand) pop(_ context.Context) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	front := b.items.Front()
	if front == nil {
		return "", false, nil
	}
	b.items.Remove(front)
	e := front.Value.(entry)
	delete(b.index, e.taskID)
	return e.taskID, true, nil
}

func (b *memBand) remove(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.index[id]
	if !ok {
		return false, nil
	}
	b.items.Remove(el)
	delete(b.index, id)
	return true, nil
}

func (b *memBand) len(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Len(), nil
}

// popScript atomically takes the lowest-scored member off a sorted set,
// mirroring memBand's pop-front -- ZRANGE alone would race with a
// concurrent worker popping the same member.
const popScript = `
local vals = redis.call("ZRANGE", KEYS[1], 0, 0)
if #vals == 0 then
	return false
end
redis.call("ZREM", KEYS[1], vals[1])
return vals[1]
`

// redisBand backs one (source, priority) FIFO with a Redis sorted set keyed
// by store.QueueKey, scored by enqueue time so ZRANGE returns FIFO order.
// A queued task's band placement lives in Redis, not only in this
// process's memory, so it survives a restart against the same Redis.
type redisBand struct {
	client *redis.Client
	key    string
}

func newRedisBand(client *redis.Client, source store.Source, priority store.Priority) *redisBand {
	return &redisBand{client: client, key: store.QueueKey(source, priority)}
}

func (b *redisBand) push(ctx context.Context, id string) error {
	return b.client.ZAddNX(ctx, b.key, redis.Z{Score: float64(time.Now().UnixNano()), Member: id}).Err()
}

func (b *redisBand) pop(ctx context.Context) (string, bool, error) {
	res, err := b.client.Eval(ctx, popScript, []string{b.key}).Result()
	if err != nil {
		return "", false, err
	}
	id, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return id, true, nil
}

func (b *redisBand) remove(ctx context.Context, id string) (bool, error) {
	n, err := b.client.ZRem(ctx, b.key, id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisBand) len(ctx context.Context) (int, error) {
	n, err := b.client.ZCard(ctx, b.key).Result()
	return int(n), err
}

// ProgressTracker is the subset of the Progress Aggregator the queue
// manager needs: incrementing total on first admission of a task for an
// investigation.
type ProgressTracker interface {
	RegisterTask(investigationID, taskID string)
}

// Manager is the Priority Queue Manager: one FIFO band per (source,
// priority), backed by the Task Record Store for the canonical task state.
type Manager struct {
	store    store.Store
	breakers *breaker.Registry
	progress ProgressTracker

	redisClient *redis.Client

	mu    sync.Mutex
	bands map[store.Source]map[store.Priority]bandStore
}

// NewManager creates an empty queue manager with purely in-process bands.
// Call WithRedis immediately afterward, before the first Enqueue, to back
// every band with a Redis sorted set instead.
func NewManager(s store.Store, breakers *breaker.Registry, progress ProgressTracker) *Manager {
	return &Manager{
		store:    s,
		breakers: breakers,
		progress: progress,
		bands:    make(map[store.Source]map[store.Priority]bandStore),
	}
}

// WithRedis switches every band this Manager creates from then on to a
// Redis-backed sorted set. Must be called before the manager's bands map
// is populated -- cmd/dossie wires this right after NewManager, before any
// worker or dispatch call reaches the manager.
func (m *Manager) WithRedis(client *redis.Client) *Manager {
	m.redisClient = client
	return m
}

func (m *Manager) bandFor(source store.Source, priority store.Priority) bandStore {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySource, ok := m.bands[source]
	if !ok {
		bySource = make(map[store.Priority]bandStore)
		m.bands[source] = bySource
	}
	b, ok := bySource[priority]
	if !ok {
		if m.redisClient != nil {
			b = newRedisBand(m.redisClient, source, priority)
		} else {
			b = newMemBand()
		}
		bySource[priority] = b
	}
	return b
}

// Enqueue admits task into its (source, priority) band. It consults the
// circuit breaker first -- an open breaker refuses admission but does not
// touch tasks already queued, since admission and dispatch are decoupled
// concerns.
func (m *Manager) Enqueue(ctx context.Context, task *store.Task) error {
	if m.breakers != nil && m.breakers.IsOpen(task.Source) {
		observability.AdmissionRefusals.WithLabelValues(string(task.Source)).Inc()
		return fmt.Errorf("%w: source=%s", ErrAdmissionRefused, task.Source)
	}
	return m.place(ctx, task)
}

// Requeue re-admits a task the Retry Scheduler has promoted past its
// backoff delay. It does not consult the circuit breaker: a retry slot was
// already admitted once, and the promotion pump re-admits it
// unconditionally, letting the next dispatch attempt (not re-admission)
// discover whether the source has since opened its breaker.
func (m *Manager) Requeue(ctx context.Context, task *store.Task) error {
	return m.place(ctx, task)
}

func (m *Manager) place(ctx context.Context, task *store.Task) error {
	task.Status = store.StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if err := m.store.Put(ctx, task); err != nil {
		return fmt.Errorf("queue: persist task: %w", err)
	}

	if err := m.bandFor(task.Source, task.Priority).push(ctx, task.ID); err != nil {
		return fmt.Errorf("queue: push to band: %w", err)
	}

	observability.TasksEnqueued.WithLabelValues(string(task.Source)).Inc()
	if n, err := m.bandFor(task.Source, task.Priority).len(ctx); err == nil {
		observability.QueueDepth.WithLabelValues(string(task.Source), strconv.Itoa(int(task.Priority))).Set(float64(n))
	}

	if m.progress != nil {
		m.progress.RegisterTask(task.InvestigationID, task.ID)
	}
	return nil
}

// Dequeue scans the bands for source in priority order (CRITICAL first)
// and returns the oldest queued task in the first non-empty band,
// transitioning it to RUNNING. It does not consult the circuit breaker:
// already-admitted work is dispatched regardless of breaker state.
func (m *Manager) Dequeue(ctx context.Context, source store.Source) (*store.Task, error) {
	for _, priority := range store.Bands {
		b := m.bandFor(source, priority)
		taskID, ok, err := b.pop(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue: pop band: %w", err)
		}
		if !ok {
			continue
		}

		if n, err := b.len(ctx); err == nil {
			observability.QueueDepth.WithLabelValues(string(source), strconv.Itoa(int(priority))).Set(float64(n))
		}

		now := time.Now()
		task, err := m.store.Mutate(ctx, taskID, func(current *store.Task) (*store.Task, error) {
			if current == nil {
				return nil, fmt.Errorf("queue: dequeued task %s has no record", taskID)
			}
			current.Status = store.StatusRunning
			current.StartedAt = &now
			return current, nil
		})
		if err != nil {
			return nil, err
		}
		return task, nil
	}
	return nil, nil
}

// Remove deletes taskID from whichever band it currently occupies. It
// resolves the band from the Task Record itself (source, priority) rather
// than from in-process bookkeeping, so it works correctly even against a
// Redis-backed queue that outlived a process restart.
func (m *Manager) Remove(ctx context.Context, taskID string) bool {
	task, err := m.store.Get(ctx, taskID)
	if err != nil || task == nil {
		return false
	}
	b := m.bandFor(task.Source, task.Priority)
	removed, err := b.remove(ctx, taskID)
	if err != nil || !removed {
		return false
	}
	if n, err := b.len(ctx); err == nil {
		observability.QueueDepth.WithLabelValues(string(task.Source), strconv.Itoa(int(task.Priority))).Set(float64(n))
	}
	return true
}

// SourceStats is the per-source queue depth breakdown for queue_stats.
type SourceStats struct {
	Source     store.Source
	PerBand    map[store.Priority]int
	TotalDepth int
}

// Stats returns queue depth for source, or every known source if source is
// empty. It always walks store.AllSources/store.Bands rather than whatever
// this process has already touched, so depth is reported correctly even
// for a source this process hasn't dequeued from yet (e.g. right after a
// restart against a populated Redis backend).
func (m *Manager) Stats(ctx context.Context, source store.Source) ([]SourceStats, error) {
	sources := store.AllSources
	if source != "" {
		sources = []store.Source{source}
	}

	result := make([]SourceStats, 0, len(sources))
	for _, s := range sources {
		stat := SourceStats{Source: s, PerBand: make(map[store.Priority]int)}
		for _, p := range store.Bands {
			n, err := m.bandFor(s, p).len(ctx)
			if err != nil {
				return nil, fmt.Errorf("queue: stats for %s/%d: %w", s, p, err)
			}
			stat.PerBand[p] = n
			stat.TotalDepth += n
		}
		result = append(result, stat)
	}
	return result, nil
}
