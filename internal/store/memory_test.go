package store

import (
	"context"
	"testing"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := &Task{ID: "t1", Source: SourceCAR, Status: StatusPending}
	if err := s.Put(context.Background(), task); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := s.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Status != StatusPending {
		t.Fatalf("expected pending task, got %+v", got)
	}
}

func TestMemoryStoreMutateIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := &Task{ID: "t2", Source: SourceCAR, Status: StatusPending, MaxAttempts: 3}
	if err := s.Put(context.Background(), task); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	_, err := s.Mutate(context.Background(), "t2", func(current *Task) (*Task, error) {
		current.Status = StatusRunning
		return current, nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	got, _ := s.Get(context.Background(), "t2")
	if got.Status != StatusRunning {
		t.Fatalf("expected running after mutate, got %s", got.Status)
	}
}

func TestMemoryStoreMutateMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	got, err := s.Mutate(context.Background(), "missing", func(current *Task) (*Task, error) {
		if current != nil {
			t.Fatal("expected nil current for missing task")
		}
		return &Task{ID: "missing", Status: StatusPending}, nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected pending task created, got %+v", got)
	}
}
