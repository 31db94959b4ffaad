// Package payload provides the codecs used to decode event payloads into
// typed items.
//
// Sources hand over raw bytes (a Kafka value, a NATS message body, a Redis
// pub/sub payload); a decoding projector turns them into the observable's
// item type:
//
//	m := eventrx.EventMap{
//	    Name:      "orders",
//	    Nexts:     []string{"msg"},
//	    Projector: eventrx.Decode[Order](payload.MsgPack{}),
//	}
//
// Codecs are registered by content type and short name, so map files and
// message headers can refer to them:
//
//	codec, ok := payload.Get("application/json; charset=utf-8")
//	codec, ok = payload.Get("msgpack")
package payload

import "errors"

// ErrUnsupported is returned when a codec cannot handle the given value.
var ErrUnsupported = errors.New("payload: unsupported value")

// Codec encodes and decodes payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes v.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the media type without parameters, e.g. "application/json".
	ContentType() string
}

// Default returns the codec used when none is given (JSON).
func Default() Codec {
	return JSON{}
}
