// Package httpserver exposes an HTTP server as an event source.
//
// A Server is an http.Handler that emits "request" with the incoming
// *http.Request and a *Response for every request. The handler goroutine
// waits until the response is ended or the request context is done, so
// listeners may answer synchronously or from another goroutine.
//
// A Server emits:
//   - "request" with (*http.Request, *Response)
//   - "error" when serving fails
//   - "close" after Close
//
// Example:
//
//	srv := httpserver.New(httpserver.WithRateLimit(100, 10))
//	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
//	obs.Subscribe(ctx, observable.Observer[eventrx.Exchange]{
//	    Next: func(ex eventrx.Exchange) {
//	        httpserver.End(ex.Response, []byte("Hello World"))
//	    },
//	})
//	go srv.ListenAndServe(":8080")
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/eventrx/emitter"
	"golang.org/x/time/rate"
)

// ErrServerClosed is returned when serving on a closed Server.
var ErrServerClosed = errors.New("server closed")

// options holds Server configuration (unexported)
type options struct {
	limiter    *rate.Limiter
	logger     *slog.Logger
	middleware []func(http.Handler) http.Handler
}

// Option configures a Server
type Option func(*options)

// WithRateLimit limits accepted requests to limit per second with the given
// burst. Requests over the limit are answered with 429 and not emitted.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		if limit > 0 && burst > 0 {
			o.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithMiddleware wraps the handler used by Serve and ListenAndServe. The
// first middleware is the outermost. Routers such as chi can be mounted
// this way, with the Server as their fallback handler.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Server emits incoming HTTP requests.
type Server struct {
	*emitter.EventEmitter

	limiter    *rate.Limiter
	logger     *slog.Logger
	middleware []func(http.Handler) http.Handler

	mu        sync.Mutex
	srv       *http.Server
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Server. It only emits once it is served, either with
// ListenAndServe or Serve, or mounted as a handler.
func New(opts ...Option) *Server {
	o := &options{logger: emitter.Logger("httpserver")}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Server{
		EventEmitter: emitter.New(emitter.WithLogger(o.logger)),
		limiter:      o.limiter,
		logger:       o.logger,
		middleware:   o.middleware,
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Debug("request rate limited", "method", r.Method, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	res := newResponse(w)
	if !s.Emit("request", r, res) {
		s.logger.Warn("no request listener", "method", r.Method, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	select {
	case <-res.Done():
	case <-r.Context().Done():
		res.abandon()
	}
}

// ListenAndServe listens on addr and serves until Close. A serve failure
// is emitted as "error" and returned.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		s.Emit("error", err)
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	if s.srv == nil {
		s.srv = &http.Server{Handler: s.handler()}
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("serving", "addr", l.Addr().String())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.Emit("error", err)
	return err
}

func (s *Server) handler() http.Handler {
	var h http.Handler = s
	for i := len(s.middleware) - 1; i >= 0; i-- {
		if s.middleware[i] != nil {
			h = s.middleware[i](h)
		}
	}
	return h
}

// Close shuts the server down gracefully and emits "close" once.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		srv := s.srv
		s.mu.Unlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}
		s.Emit("close")
	})
	return err
}

// Response is the writer handed to request listeners. It must be ended
// with End for the request to complete.
type Response struct {
	http.ResponseWriter

	mu    sync.Mutex
	ended bool
	done  chan struct{}
}

func newResponse(w http.ResponseWriter) *Response {
	return &Response{ResponseWriter: w, done: make(chan struct{})}
}

// End writes data, if any, and finishes the response. Calls after the first
// are ignored.
func (r *Response) End(data ...[]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}
	r.ended = true
	defer close(r.done)
	for _, d := range data {
		if _, err := r.ResponseWriter.Write(d); err != nil {
			return err
		}
	}
	return nil
}

// Write writes to the response unless it has already ended.
func (r *Response) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return 0, http.ErrHandlerTimeout
	}
	return r.ResponseWriter.Write(b)
}

// Ended reports whether End was called.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Done returns a channel closed by End.
func (r *Response) Done() <-chan struct{} {
	return r.done
}

// abandon ends the response without writing after the client went away.
func (r *Response) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ended {
		r.ended = true
		close(r.done)
	}
}

// Unwrap returns the underlying writer for http.ResponseController.
func (r *Response) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// End finishes w if it is a *Response and otherwise just writes data.
func End(w http.ResponseWriter, data ...[]byte) error {
	if res, ok := w.(*Response); ok {
		return res.End(data...)
	}
	for _, d := range data {
		if _, err := w.Write(d); err != nil {
			return err
		}
	}
	return nil
}
