package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/store"
)

type fakeProgress struct {
	registered []string
}

func (f *fakeProgress) RegisterTask(investigationID, taskID string) {
	f.registered = append(f.registered, investigationID+":"+taskID)
}

func newTestManager() (*Manager, store.Store) {
	s := store.NewMemoryStore()
	reg := breaker.NewRegistry(3, 0)
	return NewManager(s, reg, &fakeProgress{}), s
}

func TestQueueStrictPriorityOrdering(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	low := &store.Task{ID: "low", Source: store.SourceCAR, Priority: store.PriorityBackground}
	high := &store.Task{ID: "high", Source: store.SourceCAR, Priority: store.PriorityCritical}

	if err := m.Enqueue(ctx, low); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if err := m.Enqueue(ctx, high); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	got, err := m.Dequeue(ctx, store.SourceCAR)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.ID != "high" {
		t.Fatalf("expected high-priority task dequeued first regardless of arrival order, got %+v", got)
	}
}

func TestQueueFIFOWithinBand(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	first := &store.Task{ID: "first", Source: store.SourceINCRA, Priority: store.PriorityNormal}
	second := &store.Task{ID: "second", Source: store.SourceINCRA, Priority: store.PriorityNormal}

	if err := m.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := m.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	got, err := m.Dequeue(ctx, store.SourceINCRA)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != "first" {
		t.Fatalf("expected FIFO order within band, got %s", got.ID)
	}
}

func TestQueueDequeueMarksRunning(t *testing.T) {
	m, s := newTestManager()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceReceita, Priority: store.PriorityHigh}
	if err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := m.Dequeue(ctx, store.SourceReceita)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.Status != store.StatusRunning || got.StartedAt == nil {
		t.Fatalf("expected dequeued task marked running with StartedAt set, got %+v", got)
	}

	persisted, _ := s.Get(ctx, "t1")
	if persisted.Status != store.StatusRunning {
		t.Fatalf("expected persisted status running, got %s", persisted.Status)
	}
}

func TestQueueEmptyDequeueReturnsNil(t *testing.T) {
	m, _ := newTestManager()
	got, err := m.Dequeue(context.Background(), store.SourceCartorios)
	if err != nil {
		t.Fatalf("dequeue on empty queue should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil task from empty queue, got %+v", got)
	}
}

func TestQueueAdmissionRefusedWhenBreakerOpen(t *testing.T) {
	s := store.NewMemoryStore()
	reg := breaker.NewRegistry(1, time.Minute)
	reg.RecordFailure(store.SourceDiarioOficial)
	m := NewManager(s, reg, nil)

	task := &store.Task{ID: "t1", Source: store.SourceDiarioOficial, Priority: store.PriorityNormal}
	err := m.Enqueue(context.Background(), task)
	if err == nil {
		t.Fatal("expected admission refused when breaker is open")
	}
}

func TestQueueRemove(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceSigefSicar, Priority: store.PriorityLow}
	if err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !m.Remove(ctx, "t1") {
		t.Fatal("expected remove to succeed for queued task")
	}
	if m.Remove(ctx, "t1") {
		t.Fatal("expected second remove to report false")
	}

	got, err := m.Dequeue(ctx, store.SourceSigefSicar)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != nil {
		t.Fatalf("expected removed task to not be dequeued, got %+v", got)
	}
}

func TestQueueStats(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	m.Enqueue(ctx, &store.Task{ID: "a", Source: store.SourceCAR, Priority: store.PriorityCritical})
	m.Enqueue(ctx, &store.Task{ID: "b", Source: store.SourceCAR, Priority: store.PriorityNormal})

	stats, err := m.Stats(ctx, store.SourceCAR)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected one source in stats, got %d", len(stats))
	}
	if stats[0].TotalDepth != 2 {
		t.Fatalf("expected total depth 2, got %d", stats[0].TotalDepth)
	}
	if stats[0].PerBand[store.PriorityCritical] != 1 {
		t.Fatalf("expected 1 critical task, got %d", stats[0].PerBand[store.PriorityCritical])
	}
}
