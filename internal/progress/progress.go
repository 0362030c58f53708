// Package progress implements the Progress Aggregator: a mutex-guarded map
// of per-investigation task-state counters, modeled on the DashboardMetrics
// aggregation pattern in dashboard_service.go, retargeted from tenant-scoped
// scheduler/store metrics to per-investigation task states.
package progress

import (
	"sync"

	"github.com/dossie-intel/core/internal/observability"
	"github.com/dossie-intel/core/internal/store"
)

// Snapshot is the aggregated view returned by progress(investigation_id).
type Snapshot struct {
	InvestigationID string                   `json:"investigation_id"`
	Total           int                      `json:"total"`
	Pending         int                      `json:"pending"`
	Running         int                      `json:"running"`
	Completed       int                      `json:"completed"`
	Failed          int                      `json:"failed"`
	Cancelled       int                      `json:"cancelled"`
	Percentage      float64                  `json:"percentage"`
	TaskStates      map[string]store.Status  `json:"task_states"`
}

type investigation struct {
	taskStates map[string]store.Status
}

func newInvestigation() *investigation {
	return &investigation{taskStates: make(map[string]store.Status)}
}

// Aggregator tracks per-investigation task state and derives a progress
// snapshot on demand.
type Aggregator struct {
	mu            sync.Mutex
	investigations map[string]*investigation
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{investigations: make(map[string]*investigation)}
}

func (a *Aggregator) get(investigationID string) *investigation {
	a.mu.Lock()
	defer a.mu.Unlock()
	inv, ok := a.investigations[investigationID]
	if !ok {
		inv = newInvestigation()
		a.investigations[investigationID] = inv
	}
	return inv
}

// RegisterTask records a newly admitted task as PENDING for investigationID.
// It satisfies queue.ProgressTracker.
func (a *Aggregator) RegisterTask(investigationID, taskID string) {
	if investigationID == "" {
		return
	}
	inv := a.get(investigationID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := inv.taskStates[taskID]; !exists {
		inv.taskStates[taskID] = store.StatusPending
	}
}

// UpdateTask records taskID's current status for investigationID. Called by
// the worker pool on its lifecycle transitions (RUNNING, RETRYING,
// COMPLETED, FAILED) and by the dispatch facade on cancellation (CANCELLED).
func (a *Aggregator) UpdateTask(investigationID, taskID string, status store.Status) {
	if investigationID == "" {
		return
	}
	inv := a.get(investigationID)
	a.mu.Lock()
	defer a.mu.Unlock()
	inv.taskStates[taskID] = status
}

// Progress computes a derived snapshot for investigationID. A missing
// investigation yields a zero-total snapshot rather than an error: asking
// about progress for an investigation the aggregator never saw is not
// itself a fault condition.
func (a *Aggregator) Progress(investigationID string) Snapshot {
	inv := a.get(investigationID)

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		InvestigationID: investigationID,
		TaskStates:      make(map[string]store.Status, len(inv.taskStates)),
	}
	for taskID, status := range inv.taskStates {
		snap.TaskStates[taskID] = status
		snap.Total++
		switch status {
		case store.StatusPending, store.StatusRetrying:
			snap.Pending++
		case store.StatusRunning:
			snap.Running++
		case store.StatusCompleted:
			snap.Completed++
		case store.StatusFailed:
			snap.Failed++
		case store.StatusCancelled:
			snap.Cancelled++
		}
	}

	if snap.Total > 0 {
		finished := snap.Completed + snap.Failed + snap.Cancelled
		snap.Percentage = (float64(finished) / float64(snap.Total)) * 100
	}
	observability.InvestigationProgress.WithLabelValues(investigationID).Set(snap.Percentage)
	return snap
}

// Forget drops investigationID's state. Nothing in this module calls it on
// a schedule: aggregator state lives in process memory with no retention
// TTL, and stays until Forget is called or the process exits.
func (a *Aggregator) Forget(investigationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.investigations, investigationID)
	observability.InvestigationProgress.DeleteLabelValues(investigationID)
}
