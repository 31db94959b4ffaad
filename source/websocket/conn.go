// Package websocket exposes a gorilla WebSocket connection as an event source.
//
// A Conn emits:
//   - "message" with a Frame for every data message read
//   - "error" when reading fails for any reason other than a close handshake
//   - "close" once the connection is closed
//
// Reading starts when the first "message" listener attaches.
//
// Example:
//
//	ws, _, _ := websocket.DefaultDialer.Dial(url, nil)
//	conn := wssrc.New(ws)
//	obs, _ := eventrx.FromEvents[wssrc.Frame](wssrc.ConnMap, conn)
package websocket

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
)

// ConnMap adapts a Conn. Items are Frame values.
var ConnMap = eventrx.EventMap{
	Name:      "websocket.conn",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
}

// TextMap adapts a Conn and projects every frame to its payload as a string.
var TextMap = eventrx.EventMap{
	Name:      "websocket.text",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
	Projector: func(args ...any) any {
		if len(args) == 0 {
			return nil
		}
		if f, ok := args[0].(Frame); ok {
			return string(f.Data)
		}
		return nil
	},
}

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("websocket: connection closed")

// Frame is one data message read from the connection.
type Frame struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type int
	Data []byte
}

// Option configures a Conn
type Option func(*Conn)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReadLimit sets the maximum size in bytes of a message read from the peer.
func WithReadLimit(limit int64) Option {
	return func(c *Conn) {
		c.readLimit = limit
	}
}

// WithWriteTimeout bounds each Send and the close handshake.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// Conn emits the messages read from a WebSocket connection.
type Conn struct {
	*emitter.EventEmitter

	ws           *websocket.Conn
	logger       *slog.Logger
	readLimit    int64
	writeTimeout time.Duration

	writeMu   sync.Mutex
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps ws. The Conn owns ws from now on and closes it when reading ends.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:           ws,
		logger:       emitter.Logger("websocket>conn"),
		writeTimeout: 10 * time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With("remote", ws.RemoteAddr().String())
	if c.readLimit > 0 {
		ws.SetReadLimit(c.readLimit)
	}
	c.EventEmitter = emitter.New(
		emitter.WithLogger(c.logger),
		emitter.WithListenHook(c.onListen),
	)
	return c
}

func (c *Conn) onListen(name string) {
	if name != "message" || c.closed.Load() {
		return
	}
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.read()
}

func (c *Conn) read() {
	defer c.finish()
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || isNormalClose(err) {
				c.logger.Debug("connection closed", "error", err)
				return
			}
			c.logger.Warn("read failed", "error", err)
			c.Emit("error", err)
			return
		}
		c.Emit("message", Frame{Type: typ, Data: data})
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// Send writes one message to the peer. Safe for concurrent use.
func (c *Conn) Send(messageType int, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close frame and closes the connection. "close" is emitted
// once the connection is released.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()

	err := c.ws.Close()
	if !c.started.Load() {
		c.finish()
	}
	return err
}

func (c *Conn) finish() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.ws.Close()
		c.Emit("close")
		close(c.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
