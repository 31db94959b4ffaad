package eventrx

import (
	"fmt"
	"reflect"

	"github.com/rbaliyan/eventrx/payload"
)

// Decode returns a projector that decodes the first event argument with codec
// into a T. The argument must be a []byte or a string. When T is a pointer
// type a new value is allocated for every item, as protobuf messages require.
//
// A payload that cannot be decoded is delivered as an error wrapping
// ErrDecode, which terminates the subscription.
//
// Example:
//
//	m := eventrx.EventMap{
//	    Name:      "orders",
//	    Nexts:     []string{"message"},
//	    Projector: eventrx.Decode[Order](payload.JSON{}),
//	}
func Decode[T any](codec payload.Codec) Projector {
	if codec == nil {
		codec = payload.Default()
	}
	return func(args ...any) any {
		data, err := payloadBytes(args)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}

		var v T
		target := any(&v)
		if rt := reflect.TypeOf(v); rt != nil && rt.Kind() == reflect.Pointer {
			v = reflect.New(rt.Elem()).Interface().(T)
			target = v
		}
		if err := codec.Decode(data, target); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecode, codec.ContentType(), err)
		}
		return v
	}
}

func payloadBytes(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no payload")
	}
	switch p := args[0].(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", args[0])
	}
}
