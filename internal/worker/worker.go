// Package worker implements the Worker Pool: one logical worker per source,
// each draining its source's queue bands and invoking that source's probe
// under a per-source timeout. Grounded on Dispatcher.DispatchJob in jobs.go
// for the dispatch-then-record-outcome shape, adapted from a
// fire-and-forget async HTTP handoff to a synchronous, retryable probe call.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/dossie-intel/core/internal/breaker"
	"github.com/dossie-intel/core/internal/hub"
	"github.com/dossie-intel/core/internal/observability"
	"github.com/dossie-intel/core/internal/probe"
	"github.com/dossie-intel/core/internal/progress"
	"github.com/dossie-intel/core/internal/resilience"
	"github.com/dossie-intel/core/internal/store"
)

// Dequeuer is the subset of the Priority Queue Manager a worker needs.
type Dequeuer interface {
	Dequeue(ctx context.Context, source store.Source) (*store.Task, error)
}

// RetryScheduler is the subset of the Retry Scheduler a worker needs.
type RetryScheduler interface {
	Schedule(task *store.Task)
}

// FaultMonitor is the subset of the resilience Monitor a worker needs. A
// worker reports a storage fault when the Mutate that records a task's
// outcome fails, and clears it on the next such Mutate that succeeds.
type FaultMonitor interface {
	MarkUnavailable()
	MarkAvailable()
}

// idleSleep is how long a worker waits before re-polling an empty queue.
const idleSleep = time.Second

// Worker drains one source's queue bands, invoking its probe and recording
// outcomes. Each Worker runs in its own goroutine; workers across sources
// are fully independent and share no state but the Store, breaker registry,
// progress aggregator, and hub.
type Worker struct {
	source   store.Source
	probe    probe.Probe
	timeout  time.Duration
	queue    Dequeuer
	store    store.Store
	breakers *breaker.Registry
	retry    RetryScheduler
	progress *progress.Aggregator
	hub      hub.StreamPublisher
	limiter  *resilience.SourceLimiter
	monitor  FaultMonitor

	// retentionTTL, if nonzero, is applied to a task's store key once it
	// reaches a terminal status (COMPLETED or FAILED).
	retentionTTL time.Duration
}

// WithLimiter attaches a throttle on probe dispatch rate for this worker's
// source. Optional: a worker with no limiter dispatches as fast as tasks
// are dequeued.
func (w *Worker) WithLimiter(l *resilience.SourceLimiter) *Worker {
	w.limiter = l
	return w
}

// WithRetentionTTL sets the TTL applied to a task's store key once it
// reaches a terminal status.
func (w *Worker) WithRetentionTTL(ttl time.Duration) *Worker {
	w.retentionTTL = ttl
	return w
}

// WithFaultMonitor attaches a storage-fault monitor. Optional: a worker
// with no monitor still functions, it just reports faults nowhere.
func (w *Worker) WithFaultMonitor(m FaultMonitor) *Worker {
	w.monitor = m
	return w
}

// New creates a worker for source.
func New(source store.Source, p probe.Probe, timeout time.Duration, queue Dequeuer, s store.Store,
	breakers *breaker.Registry, retry RetryScheduler, prog *progress.Aggregator, h hub.StreamPublisher) *Worker {
	return &Worker{
		source:   source,
		probe:    p,
		timeout:  timeout,
		queue:    queue,
		store:    s,
		breakers: breakers,
		retry:    retry,
		progress: prog,
		hub:      h,
	}
}

// Run drives the worker loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.limiter != nil && !w.limiter.Allow(string(w.source)) {
			w.sleep(ctx)
			continue
		}

		task, err := w.queue.Dequeue(ctx, w.source)
		if err != nil {
			log.Printf("worker[%s]: dequeue failed: %v", w.source, err)
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(idleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// publish forwards event to the notification hub, logging rather than
// propagating a delivery failure -- a dropped notification never blocks
// probe dispatch.
func (w *Worker) publish(ctx context.Context, investigationID string, event hub.Event) {
	if w.hub == nil {
		return
	}
	if err := w.hub.PublishEvent(ctx, investigationID, event); err != nil {
		log.Printf("worker[%s]: failed to publish %s event: %v", w.source, event.Type, err)
	}
}

func (w *Worker) process(ctx context.Context, task *store.Task) {
	if w.progress != nil && task.Status == store.StatusRunning {
		w.progress.UpdateTask(task.InvestigationID, task.ID, store.StatusRunning)
	}
	w.publish(ctx, task.InvestigationID, hub.Event{
		Type:            hub.EventTaskStarted,
		InvestigationID: task.InvestigationID,
		TaskID:          task.ID,
		Source:          string(task.Source),
	})

	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	start := time.Now()
	result, err := w.probe.Invoke(probeCtx, task.Params)
	cancel()

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if probeCtx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
	}
	observability.ProbeInvocations.WithLabelValues(string(task.Source), outcome).Inc()
	observability.ProbeDuration.WithLabelValues(string(task.Source)).Observe(time.Since(start).Seconds())

	if err == nil {
		w.onSuccess(ctx, task, result)
		return
	}
	w.onFailure(ctx, task, err)
}

func (w *Worker) onSuccess(ctx context.Context, task *store.Task, result any) {
	now := time.Now()
	updated, err := w.store.Mutate(ctx, task.ID, func(current *store.Task) (*store.Task, error) {
		if current == nil {
			return nil, nil
		}
		current.Status = store.StatusCompleted
		current.Result = result
		current.CompletedAt = &now
		return current, nil
	})
	if err != nil {
		log.Printf("worker[%s]: failed to record success for task %s: %v", w.source, task.ID, err)
		if w.monitor != nil {
			w.monitor.MarkUnavailable()
		}
		return
	}
	if w.monitor != nil {
		w.monitor.MarkAvailable()
	}
	w.applyRetention(ctx, task.ID)

	if w.breakers != nil {
		w.breakers.RecordSuccess(task.Source)
	}
	if w.progress != nil {
		w.progress.UpdateTask(task.InvestigationID, task.ID, store.StatusCompleted)
	}
	w.publish(ctx, task.InvestigationID, hub.Event{
		Type:            hub.EventTaskCompleted,
		InvestigationID: task.InvestigationID,
		TaskID:          task.ID,
		Source:          string(task.Source),
	})
	if w.progress != nil {
		snap := w.progress.Progress(task.InvestigationID)
		w.publish(ctx, task.InvestigationID, hub.Event{
			Type:            hub.EventInvestigationProgress,
			InvestigationID: task.InvestigationID,
			Data:            snap,
		})
	}
	_ = updated
}

func (w *Worker) onFailure(ctx context.Context, task *store.Task, probeErr error) {
	var opened bool
	if w.breakers != nil {
		opened = w.breakers.RecordFailure(task.Source)
	}

	now := time.Now()
	var willRetry bool
	updated, err := w.store.Mutate(ctx, task.ID, func(current *store.Task) (*store.Task, error) {
		if current == nil {
			return nil, nil
		}
		if current.Status == store.StatusCancelled {
			// Cancellation intent wins; do not resurrect as RETRYING/FAILED.
			return current, nil
		}
		if current.Attempt+1 < current.MaxAttempts {
			current.Attempt++
			current.Status = store.StatusRetrying
			current.Error = probeErr.Error()
			willRetry = true
			return current, nil
		}
		current.Status = store.StatusFailed
		current.Error = probeErr.Error()
		current.CompletedAt = &now
		return current, nil
	})
	if err != nil {
		log.Printf("worker[%s]: failed to record failure for task %s: %v", w.source, task.ID, err)
		if w.monitor != nil {
			w.monitor.MarkUnavailable()
		}
		return
	}
	if w.monitor != nil {
		w.monitor.MarkAvailable()
	}

	if updated.Status == store.StatusCancelled {
		return
	}

	if willRetry {
		if w.retry != nil {
			w.retry.Schedule(updated)
		}
		if w.progress != nil {
			w.progress.UpdateTask(task.InvestigationID, task.ID, store.StatusRetrying)
		}
		w.publish(ctx, task.InvestigationID, hub.Event{
			Type:            hub.EventTaskRetrying,
			InvestigationID: task.InvestigationID,
			TaskID:          task.ID,
			Source:          string(task.Source),
		})
	} else {
		w.applyRetention(ctx, task.ID)
		if w.progress != nil {
			w.progress.UpdateTask(task.InvestigationID, task.ID, store.StatusFailed)
		}
		w.publish(ctx, task.InvestigationID, hub.Event{
			Type:            hub.EventTaskFailed,
			InvestigationID: task.InvestigationID,
			TaskID:          task.ID,
			Source:          string(task.Source),
		})
	}

	if opened {
		w.publish(ctx, "", hub.Event{
			Type:   hub.EventCircuitBreakerOpened,
			Source: string(task.Source),
		})
	}
}

func (w *Worker) applyRetention(ctx context.Context, taskID string) {
	if w.retentionTTL <= 0 {
		return
	}
	if err := w.store.SetTTL(ctx, store.TaskKey(taskID), w.retentionTTL); err != nil {
		log.Printf("worker[%s]: failed to set retention TTL for task %s: %v", w.source, taskID, err)
	}
}
