package app

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrGateReleaseWithoutAcquire is returned by Release when no permit is held
var ErrGateReleaseWithoutAcquire = errors.New("admission gate released without a held permit")

// AdmissionGate bounds the number of tasks admitted into the pipeline,
// queued plus executing. The scan loop blocks in Acquire once the bound is
// reached, so it never gets more than bound files ahead of the uploaders.
type AdmissionGate struct {
	sem   *semaphore.Weighted
	bound int
	inUse atomic.Int64
}

// NewAdmissionGate creates a gate with bound permits
func NewAdmissionGate(bound int) *AdmissionGate {
	return &AdmissionGate{
		sem:   semaphore.NewWeighted(int64(bound)),
		bound: bound,
	}
}

// Acquire blocks until a permit is available. It returns ctx's error if ctx
// is done first, in which case no permit is held.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

// Release returns one permit acquired with Acquire
func (g *AdmissionGate) Release() error {
	for {
		n := g.inUse.Load()
		if n <= 0 {
			return ErrGateReleaseWithoutAcquire
		}
		if g.inUse.CompareAndSwap(n, n-1) {
			break
		}
	}
	g.sem.Release(1)
	return nil
}

// InUse returns the number of permits held
func (g *AdmissionGate) InUse() int {
	return int(g.inUse.Load())
}

// Bound returns the total number of permits
func (g *AdmissionGate) Bound() int {
	return g.bound
}
