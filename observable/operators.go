package observable

import (
	"context"
	"errors"
	"sync"
)

// ErrNoItems is returned by Last when the source completes without items.
var ErrNoItems = errors.New("observable completed without items")

// Of returns an Observable that emits values in order and completes.
func Of[T any](values ...T) Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		for _, v := range values {
			if s.Closed() {
				return nil, nil
			}
			s.Next(v)
		}
		s.Complete()
		return nil, nil
	})
}

// Empty returns an Observable that completes immediately.
func Empty[T any]() Observable[T] {
	return Of[T]()
}

// Throw returns an Observable that fails immediately with err.
func Throw[T any](err error) Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		s.Error(err)
		return nil, nil
	})
}

// pipe subscribes to src and forwards terminal signals to s, routing items
// through next.
func pipe[T, R any](ctx context.Context, src Observable[T], s Subscriber[R], next func(T)) (Teardown, error) {
	sub, err := src.Subscribe(ctx, Observer[T]{
		Next:     next,
		Error:    s.Error,
		Complete: s.Complete,
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Map transforms every item with fn.
func Map[T, R any](src Observable[T], fn func(T) R) Observable[R] {
	return Create(func(ctx context.Context, s Subscriber[R]) (Teardown, error) {
		return pipe(ctx, src, s, func(v T) {
			s.Next(fn(v))
		})
	})
}

// Filter forwards only the items for which keep returns true.
func Filter[T any](src Observable[T], keep func(T) bool) Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		return pipe(ctx, src, s, func(v T) {
			if keep(v) {
				s.Next(v)
			}
		})
	})
}

// Tap calls fn for every item and forwards the item unchanged.
func Tap[T any](src Observable[T], fn func(T)) Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		return pipe(ctx, src, s, func(v T) {
			fn(v)
			s.Next(v)
		})
	})
}

// Reduce folds the items with fn starting from seed and emits the result
// once the source completes.
func Reduce[T, A any](src Observable[T], fn func(A, T) A, seed A) Observable[A] {
	return Create(func(ctx context.Context, s Subscriber[A]) (Teardown, error) {
		acc := seed
		sub, err := src.Subscribe(ctx, Observer[T]{
			Next: func(v T) {
				acc = fn(acc, v)
			},
			Error: s.Error,
			Complete: func() {
				s.Next(acc)
				s.Complete()
			},
		})
		if err != nil {
			return nil, err
		}
		return sub.Unsubscribe, nil
	})
}

// Take emits the first n items and completes.
func Take[T any](src Observable[T], n int) Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		if n <= 0 {
			s.Complete()
			return nil, nil
		}
		count := 0
		return pipe(ctx, src, s, func(v T) {
			count++
			s.Next(v)
			if count >= n {
				s.Complete()
			}
		})
	})
}

// MergeMap maps every item to an inner Observable and merges the inner
// items into the output. The output completes once the source and every
// inner Observable have completed; the first error from any of them ends
// the output and unsubscribes the rest.
func MergeMap[T, R any](src Observable[T], fn func(T) Observable[R]) Observable[R] {
	return Create(func(ctx context.Context, s Subscriber[R]) (Teardown, error) {
		m := &merger[R]{out: s, inner: make(map[*innerSub]struct{})}
		m.active = 1

		outer, err := src.Subscribe(ctx, Observer[T]{
			Next: func(v T) {
				m.subscribe(ctx, fn(v))
			},
			Error:    s.Error,
			Complete: m.done,
		})
		if err != nil {
			return m.teardown, err
		}
		m.mu.Lock()
		closed := m.closed
		if !closed {
			m.outer = outer
		}
		m.mu.Unlock()
		if closed {
			_ = outer.Unsubscribe()
		}
		return m.teardown, nil
	})
}

// innerSub tracks one inner subscription from the moment it is started, so
// it can be dropped when it terminates even before Subscribe returns.
type innerSub struct {
	sub      *Subscription
	finished bool
}

type merger[R any] struct {
	out    Subscriber[R]
	mu     sync.Mutex
	outer  *Subscription
	inner  map[*innerSub]struct{}
	active int
	closed bool
}

func (m *merger[R]) subscribe(ctx context.Context, obs Observable[R]) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.active++
	h := &innerSub{}
	m.inner[h] = struct{}{}
	m.mu.Unlock()

	sub, err := obs.Subscribe(ctx, Observer[R]{
		Next: m.out.Next,
		Error: func(err error) {
			m.release(h)
			m.out.Error(err)
		},
		Complete: func() {
			m.release(h)
			m.done()
		},
	})
	if err != nil {
		m.release(h)
		m.out.Error(err)
		return
	}

	m.mu.Lock()
	_, tracked := m.inner[h]
	if tracked && !h.finished {
		h.sub = sub
	}
	m.mu.Unlock()
	if !tracked && !h.finished {
		// teardown ran while the inner producer was starting
		_ = sub.Unsubscribe()
	}
}

// release forgets a terminated inner subscription.
func (m *merger[R]) release(h *innerSub) {
	m.mu.Lock()
	h.finished = true
	delete(m.inner, h)
	m.mu.Unlock()
}

func (m *merger[R]) done() {
	m.mu.Lock()
	m.active--
	finished := m.active == 0
	m.mu.Unlock()
	if finished {
		m.out.Complete()
	}
}

func (m *merger[R]) teardown() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*Subscription, 0, len(m.inner)+1)
	if m.outer != nil {
		subs = append(subs, m.outer)
		m.outer = nil
	}
	for h := range m.inner {
		if h.sub != nil {
			subs = append(subs, h.sub)
		}
	}
	m.inner = make(map[*innerSub]struct{})
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collect subscribes to src and blocks until it terminates, returning the
// items received. A source error is returned together with the items that
// preceded it. If ctx ends first, the subscription is cancelled and ctx's
// error is returned.
func Collect[T any](ctx context.Context, src Observable[T]) ([]T, error) {
	var (
		mu    sync.Mutex
		items []T
		err   error
		done  = make(chan struct{})
	)
	sub, subErr := src.Subscribe(ctx, Observer[T]{
		Next: func(v T) {
			mu.Lock()
			items = append(items, v)
			mu.Unlock()
		},
		Error: func(e error) {
			mu.Lock()
			err = e
			mu.Unlock()
			close(done)
		},
		Complete: func() {
			close(done)
		},
	})
	if subErr != nil {
		return nil, subErr
	}

	select {
	case <-done:
	case <-ctx.Done():
		sub.Unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		return items, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return items, err
}

// Last blocks until src terminates and returns its final item.
func Last[T any](ctx context.Context, src Observable[T]) (T, error) {
	var zero T
	items, err := Collect(ctx, src)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNoItems
	}
	return items[len(items)-1], nil
}
