// Package resilience tracks storage-fault degradation. It is a deliberately
// trimmed descendant of resilience.DegradedMode (degraded_mode.go): the
// availability-flag-plus-mutex core survives, but the LRU fallback cache
// and pending-write reconciliation queue do not -- this core's
// error-handling model treats a storage outage as a condition to report
// and fail fast on, not one to paper over with a local cache that later
// needs reconciling.
package resilience

import (
	"log"
	"sync"

	"github.com/dossie-intel/core/internal/observability"
)

// Monitor tracks whether the Task Record Store is currently reachable.
type Monitor struct {
	mu        sync.RWMutex
	available bool
}

// NewMonitor creates a Monitor assuming the store starts available.
func NewMonitor() *Monitor {
	return &Monitor{available: true}
}

// MarkUnavailable records a storage fault.
func (m *Monitor) MarkUnavailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.available {
		log.Printf("resilience: storage marked unavailable")
		m.available = false
		observability.StorageDegraded.Set(1)
	}
}

// MarkAvailable records storage recovery.
func (m *Monitor) MarkAvailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		log.Printf("resilience: storage recovered")
		m.available = true
		observability.StorageDegraded.Set(0)
	}
}

// IsDegraded reports whether the store is currently considered unavailable.
func (m *Monitor) IsDegraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.available
}
