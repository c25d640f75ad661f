package app

import (
	"sync"
	"sync/atomic"
)

// InFlightTracker is the set of file identities currently owned by the
// pipeline, queued or uploading. An identity can be claimed again only after
// it has been released.
type InFlightTracker struct {
	entries sync.Map
	size    atomic.Int64
}

// NewInFlightTracker creates an empty tracker
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{}
}

// TryClaim adds identity and reports whether this call inserted it
func (t *InFlightTracker) TryClaim(identity string) bool {
	if _, loaded := t.entries.LoadOrStore(identity, struct{}{}); loaded {
		return false
	}
	t.size.Add(1)
	return true
}

// Release removes identity
func (t *InFlightTracker) Release(identity string) {
	if _, loaded := t.entries.LoadAndDelete(identity); loaded {
		t.size.Add(-1)
	}
}

// Contains reports whether identity is in flight
func (t *InFlightTracker) Contains(identity string) bool {
	_, ok := t.entries.Load(identity)
	return ok
}

// Len returns the number of identities in flight
func (t *InFlightTracker) Len() int {
	return int(t.size.Load())
}
