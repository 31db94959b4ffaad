package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/observable"
	"syreclabs.com/go/faker"
)

const waitTimeout = 2 * time.Second

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func dataMap() eventrx.EventMap {
	m := SubscriptionMap.Clone()
	m.Name = "nats.data"
	m.Projector = func(args ...any) any { return string(args[0].(*nats.Msg).Data) }
	return m
}

func TestSubscription(t *testing.T) {
	conn := connect(t)
	sub := Subscribe(conn, "orders.*")

	obs, err := eventrx.FromEvents[string](dataMap(), sub)
	if err != nil {
		t.Fatalf("FromEvents failed: %v", err)
	}
	rec := eventrx.NewRecorder[string]()
	rec.Subscribe(context.Background(), obs)
	if sub.NATS() == nil {
		t.Fatal("expected NATS subscription once a msg listener attached")
	}
	if err := conn.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	want := []string{faker.Lorem().String(), faker.Lorem().String(), faker.Lorem().String()}
	for _, w := range want {
		conn.Publish("orders.created", []byte(w))
	}
	conn.Flush()

	deadline := time.Now().Add(waitTimeout)
	for len(rec.Items()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff(want, rec.Items()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !rec.Wait(waitTimeout) || rec.Completions() != 1 {
		t.Error("expected close to complete the observable")
	}
}

func TestQueueGroup(t *testing.T) {
	conn := connect(t)
	a := Subscribe(conn, "jobs", WithQueue("workers"))
	b := Subscribe(conn, "jobs", WithQueue("workers"))
	defer a.Close()
	defer b.Close()

	merged := observable.MergeMap(observable.Of(a, b), func(s *Subscription) observable.Observable[string] {
		obs, err := eventrx.FromEvents[string](dataMap(), s)
		if err != nil {
			return observable.Throw[string](err)
		}
		return obs
	})
	rec := eventrx.NewRecorder[string]()
	rec.Subscribe(context.Background(), merged)
	conn.Flush()

	for range 10 {
		conn.Publish("jobs", []byte("job"))
	}
	conn.Flush()

	deadline := time.Now().Add(waitTimeout)
	for len(rec.Items()) < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(rec.Items()); n != 10 {
		t.Errorf("expected every job delivered once, got %d", n)
	}
}

func TestSubscribeError(t *testing.T) {
	conn := connect(t)
	sub := Subscribe(conn, "")

	obs, _ := eventrx.FromEvents[*nats.Msg](SubscriptionMap, sub)
	rec := eventrx.NewRecorder[*nats.Msg]()
	rec.Subscribe(context.Background(), obs)

	if !errors.Is(rec.Err(), nats.ErrBadSubject) {
		t.Errorf("expected ErrBadSubject, got %v", rec.Err())
	}
}

func TestAsyncErrorHandler(t *testing.T) {
	conn := connect(t)
	sub := Subscribe(conn, "events")
	defer sub.Close()

	obs, _ := eventrx.FromEvents[*nats.Msg](SubscriptionMap, sub)
	rec := eventrx.NewRecorder[*nats.Msg]()
	rec.Subscribe(context.Background(), obs)

	var forwarded error
	handler := sub.AsyncErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		forwarded = err
	})

	other := errors.New("other subscription")
	handler(conn, nil, other)
	if forwarded != other || rec.Err() != nil {
		t.Errorf("expected foreign error forwarded, got %v / %v", forwarded, rec.Err())
	}

	handler(conn, sub.NATS(), nats.ErrSlowConsumer)
	if !errors.Is(rec.Err(), nats.ErrSlowConsumer) {
		t.Errorf("expected slow consumer error, got %v", rec.Err())
	}
}

func TestCloseBeforeListen(t *testing.T) {
	conn := connect(t)
	sub := Subscribe(conn, "idle")
	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for close")
	}

	obs, _ := eventrx.FromEvents[*nats.Msg](SubscriptionMap, sub)
	rec := eventrx.NewRecorder[*nats.Msg]()
	rec.Subscribe(context.Background(), obs)
	if !errors.Is(rec.Err(), ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", rec.Err())
	}
}

func TestMsgIdentity(t *testing.T) {
	conn := connect(t)
	sub := Subscribe(conn, "ping")
	defer sub.Close()

	obs, _ := eventrx.FromEvents[*nats.Msg](SubscriptionMap, sub)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	first := observable.Take(obs, 1)
	done := make(chan *nats.Msg, 1)
	takeSub, _ := first.Subscribe(ctx, observable.Observer[*nats.Msg]{Next: func(m *nats.Msg) { done <- m }})
	conn.Flush()
	conn.Publish("ping", []byte("pong"))

	select {
	case m := <-done:
		if m.Subject != "ping" || string(m.Data) != "pong" {
			t.Errorf("unexpected msg %s %q", m.Subject, m.Data)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for msg")
	}
	select {
	case <-takeSub.Done():
	case <-ctx.Done():
		t.Fatal("timeout waiting for Take to finish")
	}
	if n := sub.ListenerCount("msg"); n != 0 {
		t.Errorf("expected msg listener detached after Take, got %d", n)
	}
}
