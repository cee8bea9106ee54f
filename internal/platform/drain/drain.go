// Package drain tracks whether the gateway has begun a graceful shutdown,
// so the health check and job submission handlers can report a clean 503
// instead of accepting work, or claiming to be healthy, while the process
// is already tearing down (spec.md §6.1's "503 down" Submit error).
package drain

import "sync/atomic"

// Flag is a process-wide draining switch. The zero value reports not
// draining; a nil *Flag is treated the same way so callers that construct
// handlers without one (tests, reap-once) need no special-casing.
type Flag struct {
	active atomic.Bool
}

// Start marks the gateway as draining. One-way: a process never un-drains.
func (f *Flag) Start() {
	if f == nil {
		return
	}
	f.active.Store(true)
}

// Active reports whether Start has been called.
func (f *Flag) Active() bool {
	if f == nil {
		return false
	}
	return f.active.Load()
}
