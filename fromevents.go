package eventrx

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/rbaliyan/eventrx/emitter"
	"github.com/rbaliyan/eventrx/observable"
)

// NewID generates a new unique ID
func NewID() string {
	return observable.NewID()
}

// signalKind is the notification an event name is mapped to.
type signalKind uint8

const (
	kindNext signalKind = iota
	kindError
	kindComplete
)

func (k signalKind) String() string {
	switch k {
	case kindNext:
		return "next"
	case kindError:
		return "error"
	case kindComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// metaListener records one listener attached for a subscription so that
// teardown can remove exactly that handle.
type metaListener struct {
	kind     signalKind
	event    string
	listener *emitter.Listener
}

// FromEvents returns a cold observable over the events of src described by m.
//
// Every subscription attaches its own listeners: error and completion
// listeners first, then item listeners, so a source that starts flowing when
// its first item listener attaches cannot finish unobserved. Each item event
// is passed through the map's projector and delivered as T; a nil projection
// is delivered as T's zero value. An error event delivers its first argument
// as the error (wrapped in *EventError when it is not an error). After the
// first error or completion, or on Unsubscribe, every listener the
// subscription attached is removed; removal failures are joined and returned
// by Unsubscribe. The source itself is never closed.
//
// Configuration errors are returned immediately: ErrSourceRequired,
// ErrInvalidEventMap, and ErrNoNextEvents when WithRequireNexts is set.
func FromEvents[T any](m EventMap, src emitter.Emitter, opts ...Option) (observable.Observable[T], error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if v := reflect.ValueOf(src); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, ErrSourceRequired
	}

	m = m.Clone()
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cfg := newAdapterConfig(m, opts...)
	if cfg.requireNexts && len(m.Nexts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoNextEvents, cfg.name)
	}

	a := &adapter[T]{
		m:       m,
		src:     src,
		project: m.projector(),
		cfg:     cfg,
		tel:     newTelemetry(cfg),
	}
	return observable.Create(a.produce), nil
}

// adapter is the producer shared by every subscription of one FromEvents
// observable.
type adapter[T any] struct {
	m       EventMap
	src     emitter.Emitter
	project Projector
	cfg     *adapterConfig
	tel     *telemetry
}

func (a *adapter[T]) produce(ctx context.Context, s observable.Subscriber[T]) (observable.Teardown, error) {
	subID := NewID()
	ctx, span := a.tel.startSpan(ctx, subID)
	a.tel.subscribed(ctx)
	log := a.cfg.logger.With("subscription", subID)

	records := make([]metaListener, 0, len(a.m.Errors)+len(a.m.Completes)+len(a.m.Nexts))

	teardown := func() error {
		var errs []error
		for _, r := range records {
			if err := a.src.Off(r.event, r.listener); err != nil {
				log.Warn("failed to detach listener", "event", r.event, "kind", r.kind.String(), "error", err)
				errs = append(errs, fmt.Errorf("detach %s listener %q: %w", r.kind, r.event, err))
			}
		}
		a.tel.attached(ctx, -len(records))
		records = nil
		span.End()
		log.Debug("detached listeners")
		return errors.Join(errs...)
	}

	attach := func(kind signalKind, event string, fn func(args ...any)) error {
		l := emitter.NewListener(fn)
		if err := a.src.On(event, l); err != nil {
			return fmt.Errorf("attach %s listener %q: %w", kind, event, err)
		}
		records = append(records, metaListener{kind: kind, event: event, listener: l})
		a.tel.attached(ctx, 1)
		return nil
	}

	fail := func(event string, err error) {
		if s.Closed() {
			return
		}
		a.tel.failed(ctx)
		recordError(span, event, err)
		log.Debug("error event", "event", event, "error", err)
		s.Error(err)
	}

	for _, event := range a.m.Errors {
		if err := attach(kindError, event, func(args ...any) {
			fail(event, eventError(event, args))
		}); err != nil {
			log.Warn("failed to attach listener", "event", event, "error", err)
			return teardown, err
		}
	}

	for _, event := range a.m.Completes {
		if err := attach(kindComplete, event, func(args ...any) {
			if s.Closed() {
				return
			}
			a.tel.completed(ctx)
			log.Debug("complete event", "event", event)
			s.Complete()
		}); err != nil {
			log.Warn("failed to attach listener", "event", event, "error", err)
			return teardown, err
		}
	}

	for _, event := range a.m.Nexts {
		if err := attach(kindNext, event, func(args ...any) {
			if s.Closed() {
				return
			}
			item, err := cast[T](event, a.project(args...))
			if err != nil {
				fail(event, err)
				return
			}
			a.tel.item(ctx)
			s.Next(item)
		}); err != nil {
			log.Warn("failed to attach listener", "event", event, "error", err)
			return teardown, err
		}
	}

	log.Debug("attached listeners", "count", len(records))
	return teardown, nil
}

// cast converts a projected value to T. Projection errors wrapping ErrDecode
// or ErrTypeMismatch are returned as errors rather than items.
func cast[T any](event string, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if err, ok := v.(error); ok {
		var mismatch *TypeMismatchError
		if errors.As(err, &mismatch) {
			if mismatch.Event == "" {
				mismatch.Event = event
			}
			return zero, err
		}
		if errors.Is(err, ErrDecode) {
			return zero, err
		}
	}
	item, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Event: event,
			Want:  reflect.TypeFor[T]().String(),
			Got:   v,
		}
	}
	return item, nil
}
