// Package httpclient exposes outgoing HTTP requests and their responses as
// event sources.
//
// A Request emits:
//   - "response" with a *Response once headers arrive
//   - "error" when the request fails
//   - "abort" after Abort
//   - "close" last
//
// A Response is a readable stream over the body and emits "data", "error",
// "end", "close", plus "aborted" after Abort.
//
// Example:
//
//	req, _ := httpclient.NewRequest(ctx, http.MethodGet, url, nil)
//	responses, _ := eventrx.FromEvents[*httpclient.Response](eventrx.RequestMap, req)
//	bodies := observable.MergeMap(responses, func(res *httpclient.Response) observable.Observable[string] {
//	    obs, err := eventrx.FromEvents[string](eventrx.ResponseMap, res)
//	    if err != nil {
//	        return observable.Throw[string](err)
//	    }
//	    return obs
//	})
//	go req.End()
package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/eventrx/emitter"
	"github.com/rbaliyan/eventrx/source/stream"
)

// ErrAlreadySent is returned by End when the request was already sent or
// aborted.
var ErrAlreadySent = errors.New("request already sent")

// options holds Request configuration (unexported)
type options struct {
	client     *http.Client
	header     http.Header
	streamOpts []stream.Option
	logger     *slog.Logger
}

// Option configures a Request
type Option func(*options)

// WithClient sets the HTTP client. Default is http.DefaultClient.
func WithClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

// WithEncoding sets the encoding of response body chunks.
// See stream.WithEncoding.
func WithEncoding(enc string) Option {
	return func(o *options) {
		o.streamOpts = append(o.streamOpts, stream.WithEncoding(enc))
	}
}

// WithChunkSize sets the response body read size.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.streamOpts = append(o.streamOpts, stream.WithChunkSize(n))
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Request is an outgoing HTTP request that is sent by End.
type Request struct {
	*emitter.EventEmitter

	req        *http.Request
	client     *http.Client
	cancel     context.CancelFunc
	streamOpts []stream.Option
	logger     *slog.Logger

	sent      atomic.Bool
	aborted   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewRequest prepares a request. Nothing is sent until End.
func NewRequest(ctx context.Context, method, url string, body io.Reader, opts ...Option) (*Request, error) {
	o := &options{
		client: http.DefaultClient,
		header: make(http.Header),
		logger: emitter.Logger("httpclient"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vs := range o.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	streamOpts := append([]stream.Option{stream.WithLogger(o.logger)}, o.streamOpts...)

	return &Request{
		EventEmitter: emitter.New(emitter.WithLogger(o.logger)),
		req:          req,
		client:       o.client,
		cancel:       cancel,
		streamOpts:   streamOpts,
		logger:       o.logger.With("method", method, "url", url),
		done:         make(chan struct{}),
	}, nil
}

// HTTPRequest returns the underlying request.
func (r *Request) HTTPRequest() *http.Request {
	return r.req
}

// End sends the request and blocks until the response headers arrive or the
// request fails. The outcome is emitted; the returned error is only
// ErrAlreadySent.
func (r *Request) End() error {
	if r.aborted.Load() || !r.sent.CompareAndSwap(false, true) {
		return ErrAlreadySent
	}
	defer r.finish()

	resp, err := r.client.Do(r.req)
	if err != nil {
		if r.aborted.Load() {
			return nil
		}
		r.logger.Debug("request failed", "error", err)
		r.Emit("error", err)
		return nil
	}

	res, err := newResponse(resp, r.streamOpts)
	if err != nil {
		resp.Body.Close()
		r.Emit("error", err)
		return nil
	}
	r.logger.Debug("response", "status", resp.StatusCode)
	if !r.Emit("response", res) {
		// Nobody will read the body.
		res.Destroy(nil)
	}
	return nil
}

// Abort cancels the request and emits "abort". A response already emitted
// is not affected; abort it separately.
func (r *Request) Abort() {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	r.cancel()
	r.Emit("abort")
	r.finish()
}

func (r *Request) finish() {
	r.closeOnce.Do(func() {
		r.Emit("close")
		close(r.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Response is a received response whose body is a readable stream.
type Response struct {
	*stream.Readable

	resp    *http.Response
	aborted atomic.Bool
}

func newResponse(resp *http.Response, opts []stream.Option) (*Response, error) {
	body, err := stream.NewReadable(resp.Body, opts...)
	if err != nil {
		return nil, err
	}
	return &Response{Readable: body, resp: resp}, nil
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.resp.StatusCode
}

// Header returns the response headers.
func (r *Response) Header() http.Header {
	return r.resp.Header
}

// HTTPResponse returns the underlying response. Its body is owned by the
// stream and must not be read directly.
func (r *Response) HTTPResponse() *http.Response {
	return r.resp
}

// Abort stops reading the body and emits "aborted".
func (r *Response) Abort() {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	r.Emit("aborted")
	r.Destroy(nil)
}
