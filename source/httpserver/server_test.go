package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/observable"
)

const waitTimeout = time.Second

func echo(ex eventrx.Exchange) {
	body, _ := io.ReadAll(ex.Request.Body)
	if len(body) == 0 {
		body = []byte("No Data!")
	}
	End(ex.Response, body)
}

func get(t *testing.T, url string, body string) (int, string) {
	t.Helper()
	method := http.MethodGet
	var rd io.Reader
	if body != "" {
		method = http.MethodPost
		rd = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, url, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServerEmitsRequests(t *testing.T) {
	srv := New()
	obs, err := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	if err != nil {
		t.Fatalf("FromEvents failed: %v", err)
	}
	sub, _ := obs.Subscribe(context.Background(), observable.Observer[eventrx.Exchange]{Next: echo})
	defer sub.Unsubscribe()

	ts := httptest.NewServer(srv)
	defer ts.Close()

	if code, body := get(t, ts.URL, "ping"); code != http.StatusOK || body != "ping" {
		t.Errorf("expected echo, got %d %q", code, body)
	}
	if _, body := get(t, ts.URL, ""); body != "No Data!" {
		t.Errorf("expected fallback body, got %q", body)
	}
}

func TestAsyncResponse(t *testing.T) {
	srv := New()
	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	obs.Subscribe(context.Background(), observable.Observer[eventrx.Exchange]{
		Next: func(ex eventrx.Exchange) {
			go func() {
				time.Sleep(5 * time.Millisecond)
				End(ex.Response, []byte("later"))
			}()
		},
	})

	ts := httptest.NewServer(srv)
	defer ts.Close()
	if _, body := get(t, ts.URL, ""); body != "later" {
		t.Errorf("expected handler to wait for End, got %q", body)
	}
}

func TestNoListener(t *testing.T) {
	ts := httptest.NewServer(New())
	defer ts.Close()
	if code, _ := get(t, ts.URL, ""); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := New(WithRateLimit(0.001, 1))
	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	obs.Subscribe(context.Background(), observable.Observer[eventrx.Exchange]{Next: echo})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	if code, _ := get(t, ts.URL, ""); code != http.StatusOK {
		t.Errorf("expected first request accepted, got %d", code)
	}
	if code, _ := get(t, ts.URL, ""); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
}

func TestServeAndClose(t *testing.T) {
	srv := New()
	rec := eventrx.NewRecorder[eventrx.Exchange]()
	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	rec.Subscribe(context.Background(), obs)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rec.Completions() != 1 {
		t.Error("expected close to complete the observable")
	}
	if srv.ListenerCount("request") != 0 {
		t.Error("expected listeners detached")
	}

	select {
	case err := <-served:
		if err != nil && !errors.Is(err, ErrServerClosed) {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestMiddleware(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				if r.URL.Path == "/healthz" {
					w.Write([]byte("ok"))
					return
				}
				next.ServeHTTP(w, r)
			})
		}
	}
	srv := New(WithMiddleware(tag("outer"), nil, tag("inner")))
	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	sub, _ := obs.Subscribe(context.Background(), observable.Observer[eventrx.Exchange]{Next: echo})
	defer sub.Unsubscribe()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.Serve(l)
	defer srv.Close(context.Background())

	url := "http://" + l.Addr().String()
	if _, body := get(t, url+"/healthz", ""); body != "ok" {
		t.Errorf("expected middleware answer, got %q", body)
	}
	if _, body := get(t, url+"/echo", "hi"); body != "hi" {
		t.Errorf("expected server answer, got %q", body)
	}
	want := []string{"outer", "outer", "inner"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected middleware order %v, got %v", want, order)
	}
}

func TestListenError(t *testing.T) {
	srv := New()
	rec := eventrx.NewRecorder[eventrx.Exchange]()
	obs, _ := eventrx.FromEvents[eventrx.Exchange](eventrx.ServerMap, srv)
	rec.Subscribe(context.Background(), obs)

	if err := srv.ListenAndServe("bad-address"); err == nil {
		t.Fatal("expected listen error")
	}
	if rec.Err() == nil {
		t.Error("expected error notification")
	}
}

func TestResponseEnd(t *testing.T) {
	w := httptest.NewRecorder()
	res := newResponse(w)
	res.Write([]byte("a"))
	res.End([]byte("b"))
	res.End([]byte("c"))
	if _, err := res.Write([]byte("d")); err == nil {
		t.Error("expected write after end to fail")
	}
	if !res.Ended() || w.Body.String() != "ab" {
		t.Errorf("unexpected response %q", w.Body.String())
	}
}
