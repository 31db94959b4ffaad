// Package grpcstream exposes the receive side of a gRPC stream as an event
// source.
//
// A Stream emits:
//   - "message" with every received message
//   - "end" when the peer finished the stream (io.EOF)
//   - "error" when receiving fails with any other status
//   - "close" once receiving stopped, including after cancellation
//
// Receiving starts when the first "message" listener attaches.
//
// Example:
//
//	cs, _ := conn.NewStream(ctx, desc, "/pkg.Service/Watch")
//	s := grpcstream.New(grpcstream.ClientStream[pb.Update](cs))
//	obs, _ := eventrx.FromEvents[*pb.Update](grpcstream.StreamMap, s)
package grpcstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StreamMap adapts a Stream. Items are the received messages.
var StreamMap = eventrx.EventMap{
	Name:      "grpc.stream",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"end", "close"},
}

// Receiver is the receive half of a stream. Generated client and server
// stream types implement it.
type Receiver[M any] interface {
	Recv() (M, error)
}

// ClientStream receives messages of type M from a raw grpc.ClientStream.
func ClientStream[M any](cs grpc.ClientStream) Receiver[*M] {
	return clientReceiver[M]{cs: cs}
}

type clientReceiver[M any] struct {
	cs grpc.ClientStream
}

func (r clientReceiver[M]) Recv() (*M, error) {
	m := new(M)
	if err := r.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Option configures a Stream
type Option func(*options)

type options struct {
	logger *slog.Logger
	cancel context.CancelFunc
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCancel sets the function Close calls to abort the call, normally the
// cancel func of the context the stream was opened with.
func WithCancel(cancel context.CancelFunc) Option {
	return func(o *options) {
		o.cancel = cancel
	}
}

// Stream emits the messages received from a gRPC stream.
type Stream[M any] struct {
	*emitter.EventEmitter

	recv   Receiver[M]
	cancel context.CancelFunc
	logger *slog.Logger

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps recv.
func New[M any](recv Receiver[M], opts ...Option) *Stream[M] {
	o := &options{logger: emitter.Logger("grpc>stream")}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	s := &Stream[M]{
		recv:   recv,
		cancel: o.cancel,
		logger: o.logger,
		done:   make(chan struct{}),
	}
	s.EventEmitter = emitter.New(
		emitter.WithLogger(s.logger),
		emitter.WithListenHook(s.onListen),
	)
	return s
}

func (s *Stream[M]) onListen(name string) {
	if name != "message" || s.closed.Load() {
		return
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.receive()
}

func (s *Stream[M]) receive() {
	defer s.finish()
	for {
		msg, err := s.recv.Recv()
		if err == nil {
			s.Emit("message", msg)
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			s.logger.Debug("stream ended")
			s.Emit("end")
		case isCanceled(err) || s.closed.Load():
			s.logger.Debug("stream canceled", "error", err)
		default:
			s.logger.Warn("receive failed", "error", err, "code", status.Code(err).String())
			s.Emit("error", err)
		}
		return
	}
}

func isCanceled(err error) bool {
	return status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled)
}

// Close cancels the call, when a cancel func was given, and emits "close"
// once receiving stopped.
func (s *Stream[M]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if !s.started.Load() {
		s.finish()
	}
	return nil
}

func (s *Stream[M]) finish() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Emit("close")
		close(s.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (s *Stream[M]) Done() <-chan struct{} {
	return s.done
}
