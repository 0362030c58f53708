package resilience

import "testing"

func TestMonitorStartsAvailable(t *testing.T) {
	m := NewMonitor()
	if m.IsDegraded() {
		t.Fatal("expected monitor to start non-degraded")
	}
}

func TestMonitorTracksAvailability(t *testing.T) {
	m := NewMonitor()
	m.MarkUnavailable()
	if !m.IsDegraded() {
		t.Fatal("expected degraded after MarkUnavailable")
	}
	m.MarkAvailable()
	if m.IsDegraded() {
		t.Fatal("expected not degraded after MarkAvailable")
	}
}
