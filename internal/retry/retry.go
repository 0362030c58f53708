// Package retry implements the Retry Scheduler: failed tasks are held in a
// single time-ordered set and promoted back to their queue band once their
// backoff delay elapses.
package retry

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dossie-intel/core/internal/observability"
	"github.com/dossie-intel/core/internal/store"
)

// redisOpTimeout bounds the scheduler's own write-behind Redis round trips,
// matching the breaker registry's approach to the same problem.
const redisOpTimeout = 2 * time.Second

// Admitter is the subset of the Priority Queue Manager the scheduler needs
// to re-admit a promoted task. Requeue bypasses the circuit breaker check
// Enqueue applies to brand-new admissions.
type Admitter interface {
	Requeue(ctx context.Context, task *store.Task) error
}

// Slot is one pending retry: task ID plus the time it becomes due.
type Slot struct {
	TaskID string
	DueAt  time.Time
	index  int
}

// slotHeap orders Slots by DueAt, earliest first.
type slotHeap []*Slot

func (h slotHeap) Len() int            { return len(h) }
func (h slotHeap) Less(i, j int) bool  { return h[i].DueAt.Before(h[j].DueAt) }
func (h slotHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *slotHeap) Push(x any) {
	s := x.(*Slot)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// Scheduler holds retry slots and, on a tick, promotes every due task back
// to the Priority Queue Manager. This mirrors the LockJanitor ticking-pump
// shape in coordination/janitor.go, with the fencing/epoch logic replaced
// by backoff-delay promotion.
type Scheduler struct {
	mu    sync.Mutex
	slots slotHeap
	index map[string]*Slot

	store    store.Store
	admitter Admitter

	baseDelay time.Duration
	maxDelay  time.Duration
	interval  time.Duration

	redisClient *redis.Client
}

// WithRedis switches the scheduler to mirror every retry slot into a Redis
// sorted set (store.RetryKey, scored by due time), so a pending retry
// survives a process restart. Call Restore once, before Start, to reload
// any slots a prior process left behind.
func (s *Scheduler) WithRedis(client *redis.Client) *Scheduler {
	s.redisClient = client
	return s
}

// Restore reloads every pending slot from Redis into the in-memory heap.
// Intended to run once at startup, after WithRedis and before Start.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.redisClient == nil {
		return nil
	}
	results, err := s.redisClient.ZRangeWithScores(ctx, store.RetryKey(), 0, -1).Result()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range results {
		taskID, ok := z.Member.(string)
		if !ok {
			continue
		}
		if _, exists := s.index[taskID]; exists {
			continue
		}
		slot := &Slot{TaskID: taskID, DueAt: time.Unix(0, int64(z.Score))}
		heap.Push(&s.slots, slot)
		s.index[taskID] = slot
	}
	observability.RetryPending.Set(float64(len(s.slots)))
	return nil
}

func (s *Scheduler) persistAdd(taskID string, due time.Time) {
	if s.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	err := s.redisClient.ZAdd(ctx, store.RetryKey(), redis.Z{Score: float64(due.UnixNano()), Member: taskID}).Err()
	if err != nil {
		log.Printf("retry: failed to persist slot for %s: %v", taskID, err)
	}
}

func (s *Scheduler) persistRemove(taskID string) {
	if s.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.redisClient.ZRem(ctx, store.RetryKey(), taskID).Err(); err != nil {
		log.Printf("retry: failed to remove persisted slot for %s: %v", taskID, err)
	}
}

// New creates a retry scheduler. baseDelay and maxDelay implement the
// exponential backoff base*2^attempt capped at maxDelay; interval is the
// promotion-pump tick period.
func New(s store.Store, admitter Admitter, baseDelay, maxDelay, interval time.Duration) *Scheduler {
	sch := &Scheduler{
		store:     s,
		admitter:  admitter,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		interval:  interval,
		index:     make(map[string]*Slot),
	}
	heap.Init(&sch.slots)
	return sch
}

// BackoffFor returns the delay before attempt's next retry: base*2^attempt,
// clamped to maxDelay.
func (s *Scheduler) BackoffFor(attempt int) time.Duration {
	delay := s.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// Schedule queues task for retry after the backoff delay for its current
// attempt count.
func (s *Scheduler) Schedule(task *store.Task) {
	due := time.Now().Add(s.BackoffFor(task.Attempt))

	s.mu.Lock()
	if existing, ok := s.index[task.ID]; ok {
		existing.DueAt = due
		heap.Fix(&s.slots, existing.index)
	} else {
		slot := &Slot{TaskID: task.ID, DueAt: due}
		heap.Push(&s.slots, slot)
		s.index[task.ID] = slot
	}
	pending := len(s.slots)
	s.mu.Unlock()

	observability.RetryScheduled.WithLabelValues(string(task.Source)).Inc()
	observability.RetryPending.Set(float64(pending))
	s.persistAdd(task.ID, due)
}

// Cancel removes task's pending retry slot, if any. Used when a task or its
// investigation is cancelled before its backoff elapses.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	slot, ok := s.index[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	heap.Remove(&s.slots, slot.index)
	delete(s.index, taskID)
	pending := len(s.slots)
	s.mu.Unlock()

	observability.RetryPending.Set(float64(pending))
	s.persistRemove(taskID)
}

// Pending returns the number of tasks currently awaiting retry.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Scheduler) due(now time.Time) []string {
	s.mu.Lock()
	var ids []string
	for len(s.slots) > 0 && s.slots[0].DueAt.Before(now) {
		slot := heap.Pop(&s.slots).(*Slot)
		delete(s.index, slot.TaskID)
		ids = append(ids, slot.TaskID)
	}
	pending := len(s.slots)
	s.mu.Unlock()

	if len(ids) > 0 {
		observability.RetryPending.Set(float64(pending))
		for _, id := range ids {
			s.persistRemove(id)
		}
	}
	return ids
}

// Start runs the promotion pump until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.promote(ctx)
		}
	}
}

func (s *Scheduler) promote(ctx context.Context) {
	for _, taskID := range s.due(time.Now()) {
		task, err := s.store.Get(ctx, taskID)
		if err != nil {
			log.Printf("retry: failed to load task %s for promotion: %v", taskID, err)
			continue
		}
		if task == nil || task.Status.Terminal() {
			// Cancelled or otherwise finalized while waiting on backoff.
			continue
		}

		if err := s.admitter.Requeue(ctx, task); err != nil {
			log.Printf("retry: re-admission of task %s failed: %v", taskID, err)
			continue
		}
	}
}
