// Package emitter provides the listener capability that event sources expose
// and an in-memory, Node-style event emitter implementing it.
//
// Sources are adapted by structural capability: anything that can register a
// listener under a name and later remove exactly that listener satisfies
// Emitter. Listener values are compared by pointer identity, so two listeners
// built from the same function are still distinct registrations.
//
// Sources (readers, HTTP servers, message consumers) import this package
// rather than the root eventrx package to avoid import cycles.
package emitter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Emitter errors
var (
	ErrNilListener  = errors.New("listener is nil")
	ErrEmptyEvent   = errors.New("event name is empty")
	ErrMaxListeners = errors.New("max listeners exceeded")
)

// DefaultMaxListeners is the number of listeners per event an EventEmitter
// accepts before On returns ErrMaxListeners. Zero means unlimited.
var DefaultMaxListeners uint = 0

// Listener is a callback registered on an Emitter.
// A *Listener is the registration handle: Off removes the exact handle that
// was passed to On.
type Listener struct {
	fn func(args ...any)
}

// NewListener wraps fn in a new listener handle.
func NewListener(fn func(args ...any)) *Listener {
	return &Listener{fn: fn}
}

// Call invokes the listener with the given positional arguments.
func (l *Listener) Call(args ...any) {
	if l == nil || l.fn == nil {
		return
	}
	l.fn(args...)
}

// Emitter is the capability an adapted source must provide.
type Emitter interface {
	// On registers l for the named event.
	On(name string, l *Listener) error
	// Off removes a listener previously registered with On for the same name.
	Off(name string, l *Listener) error
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// options holds configuration for EventEmitter (unexported)
type options struct {
	maxListeners uint
	onListen     func(name string)
	logger       *slog.Logger
}

// Option configures an EventEmitter
type Option func(*options)

// WithMaxListeners limits listeners per event. Zero means unlimited.
func WithMaxListeners(n uint) Option {
	return func(o *options) {
		o.maxListeners = n
	}
}

// WithListenHook sets a callback invoked after a listener is added.
// Sources use it to start producing when their first listener attaches.
func WithListenHook(fn func(name string)) Option {
	return func(o *options) {
		if fn != nil {
			o.onListen = fn
		}
	}
}

// WithLogger sets the logger for the emitter
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		maxListeners: DefaultMaxListeners,
		onListen:     func(string) {},
		logger:       Logger("emitter"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// registration is one slot in an event's listener list. The once flag is
// shared between the wrapper and Off so a once-listener fires at most once
// even when Emit races with removal.
type registration struct {
	listener *Listener
	once     bool
	fired    atomic.Bool
}

// EventEmitter is a synchronous, in-memory Emitter.
// It is safe for concurrent use; listeners run on the goroutine calling Emit.
type EventEmitter struct {
	mu           sync.RWMutex
	listeners    map[string][]*registration
	maxListeners uint
	onListen     func(name string)
	logger       *slog.Logger
}

// New creates an empty EventEmitter.
func New(opts ...Option) *EventEmitter {
	o := newOptions(opts...)
	return &EventEmitter{
		listeners:    make(map[string][]*registration),
		maxListeners: o.maxListeners,
		onListen:     o.onListen,
		logger:       o.logger,
	}
}

func (e *EventEmitter) add(name string, r *registration) error {
	if name == "" {
		return ErrEmptyEvent
	}
	if r.listener == nil {
		return ErrNilListener
	}

	e.mu.Lock()
	regs := e.listeners[name]
	if e.maxListeners > 0 && uint(len(regs)) >= e.maxListeners {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d listeners on %q", ErrMaxListeners, len(regs), name)
	}
	e.listeners[name] = append(regs, r)
	hook := e.onListen
	e.mu.Unlock()

	hook(name)
	return nil
}

// On registers l for the named event. The same handle may be registered
// more than once; each registration fires separately.
func (e *EventEmitter) On(name string, l *Listener) error {
	return e.add(name, &registration{listener: l})
}

// Once registers l to fire at most once for the named event. It is removed
// before it is invoked.
func (e *EventEmitter) Once(name string, l *Listener) error {
	return e.add(name, &registration{listener: l, once: true})
}

// Off removes the most recently added registration of l for the named event.
// Removing a listener that is not registered is not an error.
func (e *EventEmitter) Off(name string, l *Listener) error {
	if l == nil {
		return ErrNilListener
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(name, l)
	return nil
}

func (e *EventEmitter) removeLocked(name string, l *Listener) bool {
	regs := e.listeners[name]
	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].listener != l {
			continue
		}
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return true
	}
	return false
}

func (e *EventEmitter) removeRegistration(name string, r *registration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[name]
	for i, reg := range regs {
		if reg != r {
			continue
		}
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// Emit synchronously calls every listener registered for name, in
// registration order, with args. It reports whether any listener was called.
//
// The listener list is snapshotted before the first call: listeners added
// during Emit do not fire for this emission, listeners removed during Emit
// still do.
func (e *EventEmitter) Emit(name string, args ...any) bool {
	e.mu.RLock()
	regs := e.listeners[name]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	e.mu.RUnlock()

	called := false
	for _, r := range snapshot {
		if r.once {
			if !r.fired.CompareAndSwap(false, true) {
				continue
			}
			e.removeRegistration(name, r)
		}
		r.listener.Call(args...)
		called = true
	}
	return called
}

// ListenerCount returns the number of listeners registered for name.
func (e *EventEmitter) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// EventNames returns the names that currently have listeners.
func (e *EventEmitter) EventNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// RemoveAllListeners removes every listener for the given names, or for all
// events when no name is given.
func (e *EventEmitter) RemoveAllListeners(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.listeners = make(map[string][]*registration)
		return
	}
	for _, name := range names {
		delete(e.listeners, name)
	}
}

// SetMaxListeners changes the per-event listener limit. Zero means unlimited.
func (e *EventEmitter) SetMaxListeners(n uint) {
	e.mu.Lock()
	e.maxListeners = n
	e.mu.Unlock()
}

// Logger returns the emitter logger for source implementations
func (e *EventEmitter) Logger() *slog.Logger {
	return e.logger
}

// Compile-time check
var _ Emitter = (*EventEmitter)(nil)
