package eventrx

import (
	"errors"
	"fmt"
)

// Configuration errors are returned synchronously by FromEvents and the
// registry. Use errors.Is() to check for them as they are usually wrapped
// with the offending map or event name.
var (
	// ErrSourceRequired indicates FromEvents was called without a source.
	ErrSourceRequired = errors.New("event source is required")

	// ErrInvalidEventMap indicates a map with an empty event name, or an
	// unnamed map passed to the registry.
	ErrInvalidEventMap = errors.New("invalid event map")

	// ErrNoNextEvents indicates a map without item events while
	// WithRequireNexts is enabled.
	ErrNoNextEvents = errors.New("event map has no next events")

	// ErrMapExists indicates a map with the same name is already registered.
	ErrMapExists = errors.New("event map already exists")

	// ErrMapNotFound indicates no map is registered under the requested name.
	ErrMapNotFound = errors.New("event map not found")

	// ErrUnknownProjector indicates a map file names a projector that does
	// not exist.
	ErrUnknownProjector = errors.New("unknown projector")
)

// Delivery errors reach the observer's Error callback.
var (
	// ErrTypeMismatch indicates the projected value cannot be delivered as
	// the observable's item type.
	ErrTypeMismatch = errors.New("projected value type mismatch")

	// ErrDecode indicates a decoding projector could not decode the payload.
	ErrDecode = errors.New("payload decode failed")
)

// EventError is delivered when an error event fires with a payload that is
// not an error.
type EventError struct {
	Event string
	Value any
}

func (e *EventError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("event %q fired without payload", e.Event)
	}
	return fmt.Sprintf("event %q: %v", e.Event, e.Value)
}

// Unwrap returns Value when it is itself an error.
func (e *EventError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsEventError checks if an error was raised from a non-error event payload.
func IsEventError(err error) bool {
	var evErr *EventError
	return errors.As(err, &evErr)
}

// TypeMismatchError describes a projected value that does not fit the
// observable's item type. It wraps ErrTypeMismatch.
type TypeMismatchError struct {
	Event string
	Want  string
	Got   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%v: event %q produced %T, want %s", ErrTypeMismatch, e.Event, e.Got, e.Want)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// eventError converts the first argument of an error event into an error.
func eventError(name string, args []any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok && err != nil {
			return err
		}
		return &EventError{Event: name, Value: args[0]}
	}
	return &EventError{Event: name}
}
