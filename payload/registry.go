package payload

import (
	"mime"
	"sort"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{}
	// aliases maps short names to content types
	aliases = map[string]string{}
)

func init() {
	Register(JSON{}, "json")
	Register(MsgPack{}, "msgpack", "application/x-msgpack")
	Register(Proto{}, "proto", "protobuf", "application/x-protobuf")
	Register(Text{}, "text")
}

// Register adds codec under its content type, replacing any codec already
// registered for it. Aliases are extra names Get resolves to the codec.
func Register(codec Codec, alias ...string) {
	if codec == nil {
		return
	}
	ct := normalize(codec.ContentType())
	mu.Lock()
	defer mu.Unlock()
	codecs[ct] = codec
	for _, a := range alias {
		aliases[normalize(a)] = ct
	}
}

// Get returns the codec for a content type or alias. Media type parameters
// such as charset are ignored.
func Get(name string) (Codec, bool) {
	key := normalize(name)
	mu.RLock()
	defer mu.RUnlock()
	if c, ok := codecs[key]; ok {
		return c, true
	}
	if ct, ok := aliases[key]; ok {
		c, ok := codecs[ct]
		return c, ok
	}
	return nil, false
}

// MustGet returns the codec for name, or JSON.
func MustGet(name string) Codec {
	if c, ok := Get(name); ok {
		return c
	}
	return Default()
}

// ContentTypes returns the registered content types in sorted order.
func ContentTypes() []string {
	mu.RLock()
	types := make([]string, 0, len(codecs))
	for ct := range codecs {
		types = append(types, ct)
	}
	mu.RUnlock()
	sort.Strings(types)
	return types
}

func normalize(name string) string {
	if mt, _, err := mime.ParseMediaType(name); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(name))
}
