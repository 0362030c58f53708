package probe

import (
	"context"
	"errors"
	"sync"
)

// FlakyProbe fails the first failUntil invocations then succeeds,
// returning result. Used to exercise retry and circuit-breaker paths in
// tests without a real external dependency.
type FlakyProbe struct {
	mu         sync.Mutex
	calls      int
	failUntil  int
	result     any
	failResult error
}

// NewFlakyProbe creates a probe that fails its first failUntil calls with
// failResult (defaulting to a generic error if nil), then returns result.
func NewFlakyProbe(failUntil int, result any, failResult error) *FlakyProbe {
	if failResult == nil {
		failResult = errors.New("probe: simulated failure")
	}
	return &FlakyProbe{failUntil: failUntil, result: result, failResult: failResult}
}

func (p *FlakyProbe) Invoke(ctx context.Context, params map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failUntil {
		return nil, p.failResult
	}
	return p.result, nil
}

// Calls returns the number of times Invoke has been called.
func (p *FlakyProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// AlwaysFailProbe always fails, for exhaustion tests.
type AlwaysFailProbe struct {
	err error
}

// NewAlwaysFailProbe creates a probe that always returns err.
func NewAlwaysFailProbe(err error) *AlwaysFailProbe {
	if err == nil {
		err = errors.New("probe: permanent failure")
	}
	return &AlwaysFailProbe{err: err}
}

func (p *AlwaysFailProbe) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return nil, p.err
}
