package progress

import (
	"testing"

	"github.com/dossie-intel/core/internal/store"
)

func TestProgressAggregatesTaskStates(t *testing.T) {
	a := New()
	a.RegisterTask("inv-1", "t1")
	a.RegisterTask("inv-1", "t2")
	a.RegisterTask("inv-1", "t3")

	a.UpdateTask("inv-1", "t1", store.StatusCompleted)
	a.UpdateTask("inv-1", "t2", store.StatusFailed)

	snap := a.Progress("inv-1")
	if snap.Total != 3 {
		t.Fatalf("expected total 3, got %d", snap.Total)
	}
	if snap.Completed != 1 || snap.Failed != 1 || snap.Pending != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	want := float64(2) / float64(3) * 100
	if snap.Percentage != want {
		t.Fatalf("expected percentage %f, got %f", want, snap.Percentage)
	}
}

func TestProgressUnknownInvestigationIsZero(t *testing.T) {
	a := New()
	snap := a.Progress("never-seen")
	if snap.Total != 0 || snap.Percentage != 0 {
		t.Fatalf("expected zero-value snapshot, got %+v", snap)
	}
}

func TestProgressRegisterIsIdempotent(t *testing.T) {
	a := New()
	a.RegisterTask("inv-1", "t1")
	a.UpdateTask("inv-1", "t1", store.StatusRunning)
	a.RegisterTask("inv-1", "t1")

	snap := a.Progress("inv-1")
	if snap.Total != 1 {
		t.Fatalf("expected registering the same task twice not to duplicate it, got total %d", snap.Total)
	}
	if snap.Running != 1 {
		t.Fatalf("expected the re-register not to clobber the running status, got %+v", snap)
	}
}

func TestProgressForgetClearsState(t *testing.T) {
	a := New()
	a.RegisterTask("inv-1", "t1")
	a.Forget("inv-1")

	snap := a.Progress("inv-1")
	if snap.Total != 0 {
		t.Fatalf("expected forgotten investigation to reset, got %+v", snap)
	}
}
