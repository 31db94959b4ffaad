package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Built-in codecs. All are stateless values.
var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
	_ Codec = Proto{}
	_ Codec = Text{}
)

// JSON decodes with encoding/json. Numbers decoded into interface values
// keep their literal as json.Number so large integer IDs survive.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (JSON) ContentType() string { return "application/json" }

// MsgPack is MessagePack with json struct tags as fallback, so the same
// struct decodes from either codec.
type MsgPack struct{}

func (MsgPack) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgPack) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgPack) ContentType() string { return "application/msgpack" }

// Proto handles protocol buffer messages. Items decoded with it must be
// pointer message types such as *pb.Order.
type Proto struct{}

func (Proto) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupported, v)
	}
	return proto.Marshal(msg)
}

func (Proto) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupported, v)
	}
	return proto.Unmarshal(data, msg)
}

func (Proto) ContentType() string { return "application/protobuf" }

// Text passes payloads through unchanged. It decodes into *string or *[]byte.
type Text struct{}

func (Text) Encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("%w: %T is not text", ErrUnsupported, v)
}

func (Text) Decode(data []byte, v any) error {
	switch t := v.(type) {
	case *string:
		*t = string(data)
	case *[]byte:
		*t = append((*t)[:0], data...)
	case *any:
		*t = string(data)
	default:
		return fmt.Errorf("%w: cannot decode text into %T", ErrUnsupported, v)
	}
	return nil
}

func (Text) ContentType() string { return "text/plain" }
