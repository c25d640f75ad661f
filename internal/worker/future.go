package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Future is the pending result of a submitted job. Continuations registered
// with OnComplete run exactly once, on the goroutine that completed the job,
// or immediately on the caller if the job already finished.
type Future struct {
	logger *zap.Logger
	done   chan struct{}

	mu        sync.Mutex
	completed bool
	result    Result
	callbacks []func(Result)
}

func newFuture(logger *zap.Logger) *Future {
	return &Future{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// OnComplete registers a continuation for the job's result
func (f *Future) OnComplete(fn func(Result)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	result := f.result
	f.mu.Unlock()

	f.invoke(fn, result)
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (f *Future) complete(result Result) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.result = result
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		f.invoke(fn, result)
	}
}

func (f *Future) invoke(fn func(Result), result Result) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Completion callback panicked",
				zap.String("path", result.Task.Path),
				zap.Any("panic", r),
			)
		}
	}()
	fn(result)
}
