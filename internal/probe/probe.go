// Package probe defines the interface the Worker Pool uses to invoke an
// external data source, plus a couple of concrete implementations grounded
// on the Dispatcher.DispatchJob shape in jobs.go.
package probe

import "context"

// Probe performs one unit of work against an external source. Invoke must
// respect ctx's deadline: the Worker Pool sets a per-source timeout and
// relies on Invoke returning promptly once it expires.
type Probe interface {
	Invoke(ctx context.Context, params map[string]any) (result any, err error)
}

// Registry maps a source name to the Probe that serves it.
type Registry map[string]Probe

// Get returns the probe registered for source, or nil if none is registered.
func (r Registry) Get(source string) Probe {
	return r[source]
}
