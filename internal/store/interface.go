package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a task id has no record. Store.Get signals a
// missing task with (nil, nil); the dispatch facade's Status returns this
// error.
var ErrNotFound = errors.New("store: task not found")

// ErrVersionConflict is returned by Mutate when a concurrent writer won
// the race; callers should re-read and retry.
var ErrVersionConflict = errors.New("store: version conflict")

// MutateFunc reads the current task (nil if absent) and returns the task to
// persist, or an error to abort the mutation without writing anything.
type MutateFunc func(current *Task) (*Task, error)

// Store is the Task Record Store. Every implementation (memory, redis,
// postgres) must make Mutate a linearizable read-modify-write per task
// id -- concurrent workers must never observe a stale status.
type Store interface {
	// Put inserts or overwrites a task. Retention TTL is applied separately
	// via SetTTL once a task reaches a terminal status; Put itself never
	// sets an expiry.
	Put(ctx context.Context, task *Task) error

	// Get returns the task, or (nil, nil) if absent.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Mutate performs an atomic read-modify-write. fn receives the current
	// snapshot (nil if the task doesn't exist yet) and returns the task to
	// store. Returns the stored post-image.
	Mutate(ctx context.Context, taskID string, fn MutateFunc) (*Task, error)

	// Delete removes a task record outright (used by tests; production
	// code relies on TTL expiry for retention).
	Delete(ctx context.Context, taskID string) error

	// SetTTL sets (or refreshes) the retention window for a key. Used by
	// the worker pool once a task reaches a terminal status. Investigation
	// progress is not stored here and gets no TTL.
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
}
