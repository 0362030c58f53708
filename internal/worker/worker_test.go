package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/probe"
	"github.com/dossie-intel/core/internal/progress"
	"github.com/dossie-intel/core/internal/store"
)

type fakeDequeuer struct {
	mu    sync.Mutex
	tasks []*store.Task
}

func (f *fakeDequeuer) Dequeue(ctx context.Context, source store.Source) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return nil, nil
	}
	t := f.tasks[0]
	f.tasks = f.tasks[1:]
	return t, nil
}

type fakeRetry struct {
	mu        sync.Mutex
	scheduled []*store.Task
}

func (f *fakeRetry) Schedule(task *store.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, task)
}

func (f *fakeRetry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestWorkerCompletesSuccessfulTask(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceCAR, InvestigationID: "inv-1", MaxAttempts: 3}
	s.Put(ctx, task)

	dq := &fakeDequeuer{tasks: []*store.Task{task}}
	prog := progress.New()
	prog.RegisterTask("inv-1", "t1")
	p := probe.NewFlakyProbe(0, map[string]any{"ok": true}, nil)
	reg := breaker.NewRegistry(5, time.Minute)

	w := New(store.SourceCAR, p, time.Second, dq, s, reg, &fakeRetry{}, prog, nil)

	wctx, cancel := context.WithCancel(ctx)
	go w.Run(wctx)
	defer cancel()

	waitFor(t, func() bool {
		got, _ := s.Get(ctx, "t1")
		return got != nil && got.Status == store.StatusCompleted
	})
}

func TestWorkerSchedulesRetryBeforeExhaustion(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceINCRA, InvestigationID: "inv-1", Attempt: 0, MaxAttempts: 3}
	s.Put(ctx, task)

	dq := &fakeDequeuer{tasks: []*store.Task{task}}
	retry := &fakeRetry{}
	p := probe.NewAlwaysFailProbe(nil)
	reg := breaker.NewRegistry(5, time.Minute)

	w := New(store.SourceINCRA, p, time.Second, dq, s, reg, retry, progress.New(), nil)

	wctx, cancel := context.WithCancel(ctx)
	go w.Run(wctx)
	defer cancel()

	waitFor(t, func() bool { return retry.count() == 1 })

	got, _ := s.Get(ctx, "t1")
	if got.Status != store.StatusRetrying || got.Attempt != 1 {
		t.Fatalf("expected retrying with attempt bumped to 1, got %+v", got)
	}
}

func TestWorkerFailsPermanentlyAfterExhaustingAttempts(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceReceita, InvestigationID: "inv-1", Attempt: 2, MaxAttempts: 3}
	s.Put(ctx, task)

	dq := &fakeDequeuer{tasks: []*store.Task{task}}
	retry := &fakeRetry{}
	p := probe.NewAlwaysFailProbe(nil)
	reg := breaker.NewRegistry(5, time.Minute)

	w := New(store.SourceReceita, p, time.Second, dq, s, reg, retry, progress.New(), nil)

	wctx, cancel := context.WithCancel(ctx)
	go w.Run(wctx)
	defer cancel()

	waitFor(t, func() bool {
		got, _ := s.Get(ctx, "t1")
		return got != nil && got.Status == store.StatusFailed
	})

	if retry.count() != 0 {
		t.Fatalf("expected no retry scheduled once attempts exhausted, got %d", retry.count())
	}
}

func TestWorkerDoesNotResurrectCancelledTask(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	task := &store.Task{ID: "t1", Source: store.SourceCartorios, InvestigationID: "inv-1", Status: store.StatusCancelled, MaxAttempts: 3}
	s.Put(ctx, task)

	dq := &fakeDequeuer{tasks: []*store.Task{task}}
	retry := &fakeRetry{}
	p := probe.NewAlwaysFailProbe(nil)
	reg := breaker.NewRegistry(5, time.Minute)

	w := New(store.SourceCartorios, p, time.Second, dq, s, reg, retry, progress.New(), nil)

	wctx, cancel := context.WithCancel(ctx)
	go w.Run(wctx)
	defer cancel()

	time.Sleep(20 * time.Millisecond)

	got, _ := s.Get(ctx, "t1")
	if got.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled status to remain, got %s", got.Status)
	}
	if retry.count() != 0 {
		t.Fatalf("expected no retry scheduled for a cancelled task, got %d", retry.count())
	}
}
