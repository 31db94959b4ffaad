// Package stream exposes an io.Reader as a readable event stream.
//
// A Readable emits:
//   - "data" with every chunk read ([]byte, or string with WithEncoding("utf8"))
//   - "error" with the read error
//   - "end" once the reader is exhausted
//   - "close" last, after the reader has been closed
//
// Reading starts when the first "data" listener attaches, so listeners for
// the terminal events should be attached first. eventrx.FromEvents does
// that.
package stream

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rbaliyan/eventrx/emitter"
)

// DefaultChunkSize is the read buffer size.
var DefaultChunkSize = 64 * 1024

// EncodingUTF8 makes a Readable emit string chunks.
const EncodingUTF8 = "utf8"

// ErrUnknownEncoding is returned by NewReadable for unsupported encodings.
var ErrUnknownEncoding = errors.New("unknown stream encoding")

// options holds Readable configuration (unexported)
type options struct {
	chunkSize int
	encoding  string
	logger    *slog.Logger
}

// Option configures a Readable
type Option func(*options)

// WithChunkSize sets the read buffer size.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithEncoding makes the stream emit decoded strings instead of bytes.
// Only EncodingUTF8 is supported; the empty string means bytes.
func WithEncoding(enc string) Option {
	return func(o *options) {
		o.encoding = enc
	}
}

// WithLogger sets the stream logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Readable reads an io.Reader on its own goroutine and emits its content.
type Readable struct {
	*emitter.EventEmitter

	r         io.Reader
	chunkSize int
	encoding  string
	logger    *slog.Logger

	started   atomic.Bool
	destroyed atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewReadable wraps r. If r is an io.Closer it is closed once the stream
// ends or is destroyed.
func NewReadable(r io.Reader, opts ...Option) (*Readable, error) {
	o := &options{
		chunkSize: DefaultChunkSize,
		logger:    emitter.Logger("stream"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.encoding != "" && o.encoding != EncodingUTF8 {
		return nil, ErrUnknownEncoding
	}

	s := &Readable{
		r:         r,
		chunkSize: o.chunkSize,
		encoding:  o.encoding,
		logger:    o.logger,
		done:      make(chan struct{}),
	}
	s.EventEmitter = emitter.New(
		emitter.WithLogger(o.logger),
		emitter.WithListenHook(s.onListen),
	)
	return s, nil
}

func (s *Readable) onListen(name string) {
	if name == "data" {
		s.Resume()
	}
}

// Resume starts reading if it has not started yet. It is called
// automatically when the first "data" listener attaches.
func (s *Readable) Resume() {
	if s.destroyed.Load() || !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.read()
}

func (s *Readable) read() {
	buf := make([]byte, s.chunkSize)
	var partial []byte
	for {
		n, err := s.r.Read(buf)
		if s.destroyed.Load() {
			return
		}
		if n > 0 {
			var item any
			item, partial = s.chunk(partial, buf[:n])
			if item != nil {
				s.Emit("data", item)
			}
		}
		if errors.Is(err, io.EOF) {
			if len(partial) > 0 {
				s.Emit("data", string(partial))
			}
			s.Emit("end")
			s.finish()
			return
		}
		if err != nil {
			s.logger.Debug("read failed", "error", err)
			s.Emit("error", err)
			s.finish()
			return
		}
	}
}

// chunk converts b into an item. With utf8 encoding a character split
// across reads is held back and returned as the new partial prefix; the
// item is nil when nothing complete is left to emit.
func (s *Readable) chunk(partial, b []byte) (any, []byte) {
	if s.encoding != EncodingUTF8 {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	data := append(partial, b...)
	cut := completeLen(data)
	var rest []byte
	if cut < len(data) {
		rest = append([]byte(nil), data[cut:]...)
	}
	if cut == 0 {
		return nil, rest
	}
	return string(data[:cut]), rest
}

// completeLen returns the length of the longest prefix of b that does not
// end inside a multi-byte character.
func completeLen(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// finish closes the reader and emits "close" exactly once.
func (s *Readable) finish() {
	s.closeOnce.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("close failed", "error", err)
			}
		}
		s.Emit("close")
		close(s.done)
	})
}

// Destroy stops the stream. A non-nil err is emitted as "error" before
// "close". Chunks read after Destroy are discarded.
func (s *Readable) Destroy(err error) {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err != nil {
		s.Emit("error", err)
	}
	s.finish()
}

// Destroyed reports whether Destroy was called.
func (s *Readable) Destroyed() bool {
	return s.destroyed.Load()
}

// Done returns a channel closed after "close" has been emitted.
func (s *Readable) Done() <-chan struct{} {
	return s.done
}
