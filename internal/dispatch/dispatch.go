// Package dispatch implements the Dispatch Facade: the thin API a REST
// layer calls to launch an investigation, inspect its progress, and cancel
// it. It is the single entry point that wires the Queue Manager, Retry
// Scheduler, Circuit Breaker Registry, Progress Aggregator, and
// Notification Hub together.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/config"
	"github.com/dossie-intel/core/internal/hub"
	"github.com/dossie-intel/core/internal/progress"
	"github.com/dossie-intel/core/internal/queue"
	"github.com/dossie-intel/core/internal/retry"
	"github.com/dossie-intel/core/internal/store"
)

// ErrAdmissionRefused surfaces the Queue Manager's breaker-driven refusal
// to the facade's caller.
var ErrAdmissionRefused = queue.ErrAdmissionRefused

// ErrStorageUnavailable is returned when the Task Record Store cannot be
// reached to complete an operation.
var ErrStorageUnavailable = errors.New("dispatch: storage unavailable")

// ErrTaskNotFound is returned by Status for an unknown task id.
var ErrTaskNotFound = store.ErrNotFound

// Facade is the Dispatch Facade.
type Facade struct {
	store    store.Store
	queue    *queue.Manager
	retry    *retry.Scheduler
	breakers *breaker.Registry
	progress *progress.Aggregator
	hub      hub.StreamPublisher
	cfg      config.Config
}

// New wires a Facade from its already-constructed collaborators.
func New(s store.Store, q *queue.Manager, r *retry.Scheduler, breakers *breaker.Registry,
	prog *progress.Aggregator, h hub.StreamPublisher, cfg config.Config) *Facade {
	return &Facade{store: s, queue: q, retry: r, breakers: breakers, progress: prog, hub: h, cfg: cfg}
}

func newTaskID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func mergeParams(shared map[string]any, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(shared)+len(overrides))
	for k, v := range shared {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// LaunchInvestigation fans out one task per known source, applying each
// source's priority adjustment, and returns the map from source to the new
// task's id.
func (f *Facade) LaunchInvestigation(ctx context.Context, investigationID string, params map[string]any, priority store.Priority) (map[store.Source]string, error) {
	result := make(map[store.Source]string, len(store.AllSources))
	for _, source := range store.AllSources {
		taskID, err := f.LaunchSingle(ctx, source, investigationID, params, priority, f.cfg.DefaultMaxAttempts)
		if err != nil && !errors.Is(err, ErrAdmissionRefused) {
			return result, err
		}
		if err == nil {
			result[source] = taskID
		}
	}
	return result, nil
}

// LaunchSingle creates and enqueues one task for source.
func (f *Facade) LaunchSingle(ctx context.Context, source store.Source, investigationID string, params map[string]any, priority store.Priority, maxAttempts int) (string, error) {
	adjusted := priority + store.Priority(f.cfg.PriorityAdjustment[source])
	task := &store.Task{
		ID:              newTaskID(),
		Source:          source,
		Priority:        adjusted.Clamp(),
		InvestigationID: investigationID,
		Params:          mergeParams(params, nil),
		Status:          store.StatusPending,
		MaxAttempts:     maxAttempts,
	}

	if err := f.queue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("dispatch: launch %s: %w", source, err)
	}
	return task.ID, nil
}

// Status fetches the Task Record for taskID.
func (f *Facade) Status(ctx context.Context, taskID string) (*store.Task, error) {
	task, err := f.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Progress delegates to the Progress Aggregator.
func (f *Facade) Progress(investigationID string) progress.Snapshot {
	return f.progress.Progress(investigationID)
}

// CancelInvestigation transitions every non-terminal (PENDING or RETRYING)
// task of investigationID to CANCELLED, removing it from its queue band or
// retry set, and returns the count of tasks actually cancelled. RUNNING
// tasks are left to complete or time out with their status untouched; a
// RUNNING task that then fails goes through the worker's normal failure
// handling and is retried if it has attempts left.
func (f *Facade) CancelInvestigation(ctx context.Context, investigationID string) (int, error) {
	snap := f.progress.Progress(investigationID)
	cancelled := 0

	for taskID, status := range snap.TaskStates {
		if status != store.StatusPending && status != store.StatusRetrying {
			continue
		}

		updated, err := f.store.Mutate(ctx, taskID, func(current *store.Task) (*store.Task, error) {
			if current == nil {
				return nil, nil
			}
			if current.Status != store.StatusPending && current.Status != store.StatusRetrying {
				return current, nil
			}
			current.Status = store.StatusCancelled
			return current, nil
		})
		if err != nil {
			return cancelled, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if updated == nil || updated.Status != store.StatusCancelled {
			continue
		}

		f.queue.Remove(ctx, taskID)
		f.retry.Cancel(taskID)
		f.progress.UpdateTask(investigationID, taskID, store.StatusCancelled)
		if f.hub != nil {
			if err := f.hub.PublishEvent(ctx, investigationID, hub.Event{
				Type:            hub.EventInvestigationProgress,
				InvestigationID: investigationID,
				TaskID:          taskID,
			}); err != nil {
				log.Printf("dispatch: failed to publish cancellation event for task %s: %v", taskID, err)
			}
		}
		cancelled++
	}

	return cancelled, nil
}

// QueueStats returns per-source queue depth, or every source's if source is
// empty.
func (f *Facade) QueueStats(ctx context.Context, source store.Source) ([]queue.SourceStats, error) {
	return f.queue.Stats(ctx, source)
}

// CircuitBreaker returns the current breaker state for source.
func (f *Facade) CircuitBreaker(source store.Source) breaker.Snapshot {
	return f.breakers.Snapshot(source)
}
