// Package nats exposes a NATS core subscription as an event source.
//
// A Subscription emits:
//   - "msg" with every *nats.Msg received
//   - "error" when subscribing fails or the connection reports an error for it
//   - "close" after the subscription is closed
//
// The NATS subscription is created when the first "msg" listener attaches.
//
// Example:
//
//	sub := natssrc.Subscribe(conn, "orders.>", natssrc.WithQueue("workers"))
//	defer sub.Close()
//	obs, _ := eventrx.FromEvents[*nats.Msg](natssrc.SubscriptionMap, sub)
package nats

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
)

// SubscriptionMap adapts a Subscription. Items are *nats.Msg values.
var SubscriptionMap = eventrx.EventMap{
	Name:      "nats.subscription",
	Nexts:     []string{"msg"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
}

// ErrClosed is emitted when a closed Subscription is asked to subscribe.
var ErrClosed = errors.New("subscription closed")

// Option configures a Subscription
type Option func(*Subscription)

// WithQueue joins the queue group so messages are load balanced between
// its members.
func WithQueue(group string) Option {
	return func(s *Subscription) {
		s.queue = group
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscription) {
		if l != nil {
			s.logger = l
		}
	}
}

// Subscription emits the messages of one NATS subject.
type Subscription struct {
	*emitter.EventEmitter

	conn    *nats.Conn
	subject string
	queue   string
	logger  *slog.Logger

	mu        sync.Mutex
	sub       *nats.Subscription
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe prepares a subscription to subject on conn.
func Subscribe(conn *nats.Conn, subject string, opts ...Option) *Subscription {
	s := &Subscription{
		conn:    conn,
		subject: subject,
		logger:  emitter.Logger("nats>subscription"),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("subject", subject)
	s.EventEmitter = emitter.New(
		emitter.WithLogger(s.logger),
		emitter.WithListenHook(s.onListen),
	)
	return s
}

func (s *Subscription) onListen(name string) {
	if name != "msg" {
		return
	}

	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return
	}
	if s.closed.Load() {
		s.mu.Unlock()
		s.Emit("error", ErrClosed)
		return
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.QueueSubscribe(s.subject, s.queue, s.handleMessage)
	} else {
		sub, err = s.conn.Subscribe(s.subject, s.handleMessage)
	}
	if err == nil {
		s.sub = sub
		sub.SetClosedHandler(func(string) { s.finish() })
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("subscribe failed", "error", err)
		s.Emit("error", err)
		return
	}
	s.logger.Debug("subscribed", "queue", s.queue)
}

func (s *Subscription) handleMessage(msg *nats.Msg) {
	if s.closed.Load() {
		return
	}
	s.Emit("msg", msg)
}

// AsyncErrorHandler returns a handler for nats.ErrorHandler that emits
// connection errors concerning this subscription, such as slow consumer
// notifications. Errors for other subscriptions are passed to next, if set.
func (s *Subscription) AsyncErrorHandler(next nats.ErrHandler) nats.ErrHandler {
	return func(nc *nats.Conn, sub *nats.Subscription, err error) {
		s.mu.Lock()
		mine := sub != nil && sub == s.sub
		s.mu.Unlock()
		if mine {
			s.Emit("error", err)
			return
		}
		if next != nil {
			next(nc, sub, err)
		}
	}
}

// NATS returns the underlying subscription, or nil before the first "msg"
// listener attached.
func (s *Subscription) NATS() *nats.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// Close unsubscribes and emits "close" once.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			err = nil
		}
	}
	s.finish()
	return err
}

// Drain processes pending messages before closing.
func (s *Subscription) Drain() error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return s.Close()
	}
	return sub.Drain()
}

func (s *Subscription) finish() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Emit("close")
		close(s.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
