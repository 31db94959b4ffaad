package eventrx

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/eventrx/observable"
)

// Recorder subscribes to an observable and records every notification.
// Useful for asserting what an adapted source delivered.
//
// Example:
//
//	rec := eventrx.NewRecorder[string]()
//	sub, _ := obs.Subscribe(ctx, rec.Observer())
//	src.Emit("data", "a")
//	src.Emit("end")
//	rec.Items() // ["a"]
type Recorder[T any] struct {
	mu        sync.Mutex
	items     []T
	errs      []error
	completes int
	done      chan struct{}
	once      sync.Once
}

// NewRecorder creates an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{done: make(chan struct{})}
}

// Observer returns the callbacks that feed the recorder.
func (r *Recorder[T]) Observer() observable.Observer[T] {
	return observable.Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			r.items = append(r.items, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.once.Do(func() { close(r.done) })
		},
		Complete: func() {
			r.mu.Lock()
			r.completes++
			r.mu.Unlock()
			r.once.Do(func() { close(r.done) })
		},
	}
}

// Subscribe subscribes the recorder to obs.
func (r *Recorder[T]) Subscribe(ctx context.Context, obs observable.Observable[T]) (*observable.Subscription, error) {
	return obs.Subscribe(ctx, r.Observer())
}

// Items returns a copy of the recorded items
func (r *Recorder[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]T, len(r.items))
	copy(result, r.items)
	return result
}

// Errors returns a copy of the recorded errors
func (r *Recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]error, len(r.errs))
	copy(result, r.errs)
	return result
}

// Err returns the first recorded error, or nil
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

// Completions returns the number of completion notifications
func (r *Recorder[T]) Completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

// Terminated reports whether an error or completion was recorded
func (r *Recorder[T]) Terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until a terminal notification is recorded or timeout elapses.
// Returns true if the observable terminated.
func (r *Recorder[T]) Wait(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
