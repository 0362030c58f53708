package probe

import (
	"context"
	"testing"
)

func TestFlakyProbeFailsThenSucceeds(t *testing.T) {
	p := NewFlakyProbe(2, "done", nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Invoke(ctx, nil); err == nil {
			t.Fatalf("expected failure on attempt %d", i+1)
		}
	}

	result, err := p.Invoke(ctx, nil)
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if result != "done" {
		t.Fatalf("expected result %q, got %v", "done", result)
	}
	if p.Calls() != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", p.Calls())
	}
}

func TestAlwaysFailProbeNeverSucceeds(t *testing.T) {
	p := NewAlwaysFailProbe(nil)
	for i := 0; i < 5; i++ {
		if _, err := p.Invoke(context.Background(), nil); err == nil {
			t.Fatalf("expected failure on call %d", i+1)
		}
	}
}

func TestRegistryGetMissingSourceReturnsNil(t *testing.T) {
	r := make(Registry)
	if r.Get("UNKNOWN") != nil {
		t.Fatal("expected nil probe for unregistered source")
	}
}
