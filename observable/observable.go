// Package observable provides a minimal cold, push-based sequence type.
//
// An Observable delivers zero or more items followed by at most one terminal
// signal (error or completion). Nothing happens until Subscribe is called;
// every subscription runs the producer independently and owns its own
// teardown.
//
// Basic example:
//
//	obs := observable.Create(func(ctx context.Context, s observable.Subscriber[int]) (observable.Teardown, error) {
//	    s.Next(1)
//	    s.Next(2)
//	    s.Complete()
//	    return nil, nil
//	})
//
//	sub, err := obs.Subscribe(ctx, observable.Observer[int]{
//	    Next:     func(v int) { fmt.Println(v) },
//	    Error:    func(err error) { log.Println(err) },
//	    Complete: func() { fmt.Println("done") },
//	})
//	defer sub.Unsubscribe()
//
// Delivery contract:
//   - Notifications for one subscription are serialized, never concurrent.
//   - After Error or Complete no further notification is delivered.
//   - Teardown runs exactly once: after the terminal notification has been
//     delivered, or on Unsubscribe, or when the subscribe context ends.
package observable

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Teardown releases the resources of one subscription.
// An error is returned to the Unsubscribe caller.
type Teardown func() error

// Subscriber is the producer-side view of a subscription.
type Subscriber[T any] interface {
	// Next delivers an item.
	Next(v T)
	// Error delivers a terminal error.
	Error(err error)
	// Complete delivers terminal completion.
	Complete()
	// Closed reports whether the subscription no longer accepts notifications.
	Closed() bool
}

// Producer starts producing for one subscriber and returns its teardown.
// A non-nil error aborts the subscription; the returned teardown, if any,
// is still invoked.
type Producer[T any] func(ctx context.Context, s Subscriber[T]) (Teardown, error)

// Observer holds the consumer callbacks. Nil callbacks are ignored, except
// Error: an unhandled error is logged.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Observable is a cold sequence of T.
type Observable[T any] interface {
	// Subscribe starts a new, independent subscription. Cancelling ctx
	// unsubscribes.
	Subscribe(ctx context.Context, o Observer[T]) (*Subscription, error)
}

// Func implements Observable with a Producer.
type Func[T any] Producer[T]

// Create returns an Observable that runs p for every subscription.
func Create[T any](p Producer[T]) Observable[T] {
	return Func[T](p)
}

// Subscribe implements Observable.
func (f Func[T]) Subscribe(ctx context.Context, o Observer[T]) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sub := newSubscription()
	s := &subscriber[T]{observer: o, sub: sub}

	teardown, err := f(ctx, s)
	if err != nil {
		sub.abort(teardown)
		return nil, err
	}
	sub.attach(teardown)

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				sub.Unsubscribe()
			case <-sub.Done():
			}
		}()
	}
	return sub, nil
}

// ID generation
var counter uint64

// NewID generates a new unique ID
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
}

// Subscription is the consumer handle of one subscription.
type Subscription struct {
	id       string
	closed   atomic.Bool
	done     chan struct{}
	mu       sync.Mutex
	teardown Teardown
	attached bool
	finished bool
	err      error
}

func newSubscription() *Subscription {
	return &Subscription{
		id:   NewID(),
		done: make(chan struct{}),
	}
}

// ID returns the unique subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// Closed reports whether the subscription has ended.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

// Done returns a channel closed once the subscription has ended and its
// teardown has run.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe ends the subscription and runs its teardown. It is safe to
// call more than once; every call returns the teardown error.
func (s *Subscription) Unsubscribe() error {
	s.close()
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// attach stores the producer teardown. If the subscription already ended
// while the producer was running, the teardown runs immediately.
func (s *Subscription) attach(td Teardown) {
	s.mu.Lock()
	s.attached = true
	s.teardown = td
	s.mu.Unlock()
	if s.closed.Load() {
		s.runTeardown()
	}
}

// abort ends a subscription whose producer failed.
func (s *Subscription) abort(td Teardown) {
	s.closed.Store(true)
	s.attach(td)
}

func (s *Subscription) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	attached := s.attached
	s.mu.Unlock()
	// While the producer is still running, attach runs the teardown.
	if attached {
		s.runTeardown()
	}
}

func (s *Subscription) runTeardown() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	td := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	var err error
	if td != nil {
		err = td()
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

type kind uint8

const (
	kindNext kind = iota
	kindError
	kindComplete
)

type notification[T any] struct {
	kind  kind
	value T
	err   error
}

// subscriber serializes notifications for one subscription. A notification
// arriving while another is being delivered is queued and delivered by the
// goroutine already delivering, so re-entrant and concurrent producers never
// run observer callbacks concurrently.
type subscriber[T any] struct {
	observer Observer[T]
	sub      *Subscription
	mu       sync.Mutex
	emitting bool
	stopped  bool
	queue    []notification[T]
}

func (s *subscriber[T]) Next(v T) {
	s.push(notification[T]{kind: kindNext, value: v})
}

func (s *subscriber[T]) Error(err error) {
	s.push(notification[T]{kind: kindError, err: err})
}

func (s *subscriber[T]) Complete() {
	s.push(notification[T]{kind: kindComplete})
}

func (s *subscriber[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped || s.sub.Closed()
}

func (s *subscriber[T]) push(n notification[T]) {
	s.mu.Lock()
	if s.stopped || s.sub.Closed() {
		s.mu.Unlock()
		return
	}
	if n.kind != kindNext {
		s.stopped = true
	}
	if s.emitting {
		s.queue = append(s.queue, n)
		s.mu.Unlock()
		return
	}
	s.emitting = true
	s.mu.Unlock()

	for {
		s.deliver(n)

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		n = s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

func (s *subscriber[T]) deliver(n notification[T]) {
	if s.sub.Closed() {
		return
	}
	switch n.kind {
	case kindNext:
		if s.observer.Next != nil {
			s.observer.Next(n.value)
		}
	case kindError:
		if s.observer.Error != nil {
			s.observer.Error(n.err)
		} else {
			slog.Error("unhandled observable error", "subscription", s.sub.ID(), "error", n.err)
		}
		s.sub.close()
	case kindComplete:
		if s.observer.Complete != nil {
			s.observer.Complete()
		}
		s.sub.close()
	}
}
