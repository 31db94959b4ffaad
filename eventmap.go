package eventrx

import (
	"fmt"
	"net/http"
)

// Projector combines the arguments of one item event into a single value.
type Projector func(args ...any) any

// EventMap describes the event vocabulary of a source type.
//
// Names in Nexts produce items, names in Errors produce a terminal error and
// names in Completes produce terminal completion. Any list may be empty; the
// lists are expected to be disjoint but this is not enforced. A nil Projector
// means Identity.
//
// Maps are treated as immutable once registered: FromEvents and the registry
// work on copies.
type EventMap struct {
	Name      string
	Nexts     []string
	Errors    []string
	Completes []string
	Projector Projector
}

// Validate reports an error wrapping ErrInvalidEventMap if any event name is
// empty.
func (m EventMap) Validate() error {
	check := func(kind string, names []string) error {
		for i, name := range names {
			if name == "" {
				return fmt.Errorf("%w: %q has empty %s event at index %d", ErrInvalidEventMap, m.Name, kind, i)
			}
		}
		return nil
	}
	if err := check("next", m.Nexts); err != nil {
		return err
	}
	if err := check("error", m.Errors); err != nil {
		return err
	}
	return check("complete", m.Completes)
}

// Clone returns a deep copy of the map.
func (m EventMap) Clone() EventMap {
	return EventMap{
		Name:      m.Name,
		Nexts:     cloneNames(m.Nexts),
		Errors:    cloneNames(m.Errors),
		Completes: cloneNames(m.Completes),
		Projector: m.Projector,
	}
}

// Events returns every event name the map listens to, terminal events first.
// This is the order in which FromEvents attaches listeners.
func (m EventMap) Events() []string {
	names := make([]string, 0, len(m.Errors)+len(m.Completes)+len(m.Nexts))
	names = append(names, m.Errors...)
	names = append(names, m.Completes...)
	return append(names, m.Nexts...)
}

func (m EventMap) projector() Projector {
	if m.Projector == nil {
		return Identity
	}
	return m.Projector
}

func cloneNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Identity returns nil for no arguments, the argument itself for one, and
// the argument slice for several.
func Identity(args ...any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		return args
	}
}

// First returns the first argument, or nil.
func First(args ...any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// Args always returns the argument slice, even for zero or one argument.
func Args(args ...any) any {
	out := make([]any, len(args))
	copy(out, args)
	return out
}

// Exchange is one request/response pair delivered by ServerMap.
type Exchange struct {
	Request  *http.Request
	Response http.ResponseWriter
}

// ExchangeProjector builds an Exchange from (request, response) arguments.
// Missing or mistyped arguments yield a *TypeMismatchError, which FromEvents
// delivers as an error.
func ExchangeProjector(args ...any) any {
	var (
		ex       Exchange
		ok       bool
		req, res any
	)
	if len(args) > 0 {
		req = args[0]
	}
	if len(args) > 1 {
		res = args[1]
	}
	if ex.Request, ok = req.(*http.Request); !ok || ex.Request == nil {
		return &TypeMismatchError{Want: "*http.Request", Got: req}
	}
	if ex.Response, ok = res.(http.ResponseWriter); !ok {
		return &TypeMismatchError{Want: "http.ResponseWriter", Got: res}
	}
	return ex
}

// Predefined maps
var (
	// ReadableStreamMap adapts readable streams.
	ReadableStreamMap = EventMap{
		Name:      "readable",
		Nexts:     []string{"data"},
		Errors:    []string{"error"},
		Completes: []string{"end", "close"},
	}

	// ServerMap adapts HTTP servers. Items are Exchange values.
	ServerMap = EventMap{
		Name:      "server",
		Nexts:     []string{"request"},
		Errors:    []string{"error"},
		Completes: []string{"close"},
		Projector: ExchangeProjector,
	}

	// RequestMap adapts outgoing HTTP requests. Items are responses.
	RequestMap = EventMap{
		Name:      "request",
		Nexts:     []string{"response"},
		Errors:    []string{"error"},
		Completes: []string{"abort", "aborted", "close", "end"},
	}

	// ResponseMap adapts incoming HTTP response bodies.
	ResponseMap = EventMap{
		Name:      "response",
		Nexts:     []string{"data"},
		Errors:    []string{"error"},
		Completes: []string{"abort", "aborted", "close", "end"},
	}

	// ButtonMap adapts clickable controls.
	ButtonMap = EventMap{
		Name:  "button",
		Nexts: []string{"click"},
	}

	// InputMap adapts text inputs.
	InputMap = EventMap{
		Name:  "input",
		Nexts: []string{"focus", "blur", "keyup", "change"},
	}

	// DefaultMap listens to nothing. A zero EventMap behaves the same.
	DefaultMap = EventMap{
		Name: "default",
	}
)

// PredefinedMaps returns copies of every predefined map.
func PredefinedMaps() []EventMap {
	return []EventMap{
		ReadableStreamMap.Clone(),
		ServerMap.Clone(),
		RequestMap.Clone(),
		ResponseMap.Clone(),
		ButtonMap.Clone(),
		InputMap.Clone(),
		DefaultMap.Clone(),
	}
}
