package observable

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const waitTimeout = time.Second

// manual is a producer driven by the test through its captured subscriber.
type manual[T any] struct {
	mu        sync.Mutex
	subs      []Subscriber[T]
	teardowns int
	tdErr     error
}

func (m *manual[T]) observable() Observable[T] {
	return Create(func(ctx context.Context, s Subscriber[T]) (Teardown, error) {
		m.mu.Lock()
		m.subs = append(m.subs, s)
		m.mu.Unlock()
		return func() error {
			m.mu.Lock()
			m.teardowns++
			m.mu.Unlock()
			return m.tdErr
		}, nil
	})
}

func (m *manual[T]) sub(i int) Subscriber[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[i]
}

func (m *manual[T]) torn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardowns
}

type record[T any] struct {
	items     []T
	err       error
	completes int
	errors    int
}

func (r *record[T]) observer() Observer[T] {
	return Observer[T]{
		Next:     func(v T) { r.items = append(r.items, v) },
		Error:    func(err error) { r.err = err; r.errors++ },
		Complete: func() { r.completes++ },
	}
}

func TestColdSubscription(t *testing.T) {
	m := &manual[int]{}
	obs := m.observable()

	if len(m.subs) != 0 {
		t.Fatal("expected no producer run before subscribe")
	}

	var r1, r2 record[int]
	sub1, err := obs.Subscribe(context.Background(), r1.observer())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub2, _ := obs.Subscribe(context.Background(), r2.observer())

	if sub1.ID() == "" || sub1.ID() == sub2.ID() {
		t.Errorf("expected distinct subscription ids, got %q and %q", sub1.ID(), sub2.ID())
	}

	m.sub(0).Next(1)
	m.sub(1).Next(2)

	if diff := cmp.Diff([]int{1}, r1.items); diff != "" {
		t.Errorf("first subscriber (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, r2.items); diff != "" {
		t.Errorf("second subscriber (-want +got):\n%s", diff)
	}
}

func TestTerminalIsFinal(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		m := &manual[string]{}
		var r record[string]
		sub, _ := m.observable().Subscribe(context.Background(), r.observer())

		s := m.sub(0)
		s.Next("a")
		s.Complete()
		s.Next("b")
		s.Complete()
		s.Error(errors.New("late"))

		if diff := cmp.Diff([]string{"a"}, r.items); diff != "" {
			t.Errorf("items (-want +got):\n%s", diff)
		}
		if r.completes != 1 || r.errors != 0 {
			t.Errorf("expected one completion and no error, got %d/%d", r.completes, r.errors)
		}
		if !sub.Closed() || !s.Closed() {
			t.Error("expected subscription to be closed")
		}
		if m.torn() != 1 {
			t.Errorf("expected teardown once, got %d", m.torn())
		}
	})

	t.Run("error", func(t *testing.T) {
		m := &manual[string]{}
		var r record[string]
		m.observable().Subscribe(context.Background(), r.observer())

		boom := errors.New("boom")
		s := m.sub(0)
		s.Error(boom)
		s.Error(errors.New("again"))
		s.Next("ignored")
		s.Complete()

		if r.err != boom || r.errors != 1 {
			t.Errorf("expected single boom error, got %v (%d)", r.err, r.errors)
		}
		if r.completes != 0 || len(r.items) != 0 {
			t.Error("expected nothing after error")
		}
		if m.torn() != 1 {
			t.Errorf("expected teardown once, got %d", m.torn())
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	m := &manual[int]{tdErr: errors.New("detach failed")}
	var r record[int]
	sub, _ := m.observable().Subscribe(context.Background(), r.observer())

	err := sub.Unsubscribe()
	if err == nil || err.Error() != "detach failed" {
		t.Errorf("expected teardown error, got %v", err)
	}
	if err2 := sub.Unsubscribe(); err2 != err {
		t.Errorf("expected repeated Unsubscribe to return the same error, got %v", err2)
	}
	if m.torn() != 1 {
		t.Errorf("expected teardown once, got %d", m.torn())
	}

	m.sub(0).Next(1)
	m.sub(0).Complete()
	if len(r.items) != 0 || r.completes != 0 {
		t.Error("expected no notifications after unsubscribe")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestContextCancelUnsubscribes(t *testing.T) {
	m := &manual[int]{}
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := m.observable().Subscribe(ctx, Observer[int]{})

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for context cancellation to unsubscribe")
	}
	if m.torn() != 1 {
		t.Errorf("expected teardown once, got %d", m.torn())
	}
}

func TestSynchronousTermination(t *testing.T) {
	torn := 0
	obs := Create(func(ctx context.Context, s Subscriber[int]) (Teardown, error) {
		s.Next(1)
		s.Complete()
		return func() error { torn++; return nil }, nil
	})

	var r record[int]
	sub, err := obs.Subscribe(context.Background(), r.observer())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !sub.Closed() {
		t.Error("expected closed subscription")
	}
	if torn != 1 {
		t.Errorf("expected teardown to run after producer returned, got %d", torn)
	}
	if r.completes != 1 {
		t.Errorf("expected completion, got %d", r.completes)
	}
}

func TestProducerError(t *testing.T) {
	torn := false
	fail := errors.New("attach failed")
	obs := Create(func(ctx context.Context, s Subscriber[int]) (Teardown, error) {
		return func() error { torn = true; return nil }, fail
	})

	sub, err := obs.Subscribe(context.Background(), Observer[int]{})
	if !errors.Is(err, fail) {
		t.Errorf("expected producer error, got %v", err)
	}
	if sub != nil {
		t.Error("expected nil subscription")
	}
	if !torn {
		t.Error("expected partial teardown to run")
	}
}

func TestReentrantDelivery(t *testing.T) {
	m := &manual[int]{}
	var got []int
	m.observable().Subscribe(context.Background(), Observer[int]{
		Next: func(v int) {
			got = append(got, v)
			if v == 1 {
				// Delivered after this callback returns, not nested.
				m.sub(0).Next(2)
				got = append(got, -1)
			}
		},
	})
	m.sub(0).Next(1)

	if diff := cmp.Diff([]int{1, -1, 2}, got); diff != "" {
		t.Errorf("unexpected delivery order (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeFromNext(t *testing.T) {
	m := &manual[int]{}
	var sub *Subscription
	count := 0
	sub, _ = m.observable().Subscribe(context.Background(), Observer[int]{
		Next: func(int) {
			count++
			sub.Unsubscribe()
		},
	})
	m.sub(0).Next(1)
	m.sub(0).Next(2)

	if count != 1 {
		t.Errorf("expected 1 item, got %d", count)
	}
	if m.torn() != 1 {
		t.Errorf("expected teardown once, got %d", m.torn())
	}
}

func TestConcurrentProducersSerialized(t *testing.T) {
	m := &manual[int]{}
	var (
		mu      sync.Mutex
		active  int
		overlap bool
		count   int
	)
	m.observable().Subscribe(context.Background(), Observer[int]{
		Next: func(int) {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Microsecond)
			mu.Lock()
			active--
			count++
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.sub(0).Next(i)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("observer callbacks ran concurrently")
	}
	if count != 20 {
		t.Errorf("expected 20 items, got %d", count)
	}
}

func TestUnhandledErrorDoesNotPanic(t *testing.T) {
	_, err := Throw[int](errors.New("nobody listens")).Subscribe(context.Background(), Observer[int]{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
}

func TestOperators(t *testing.T) {
	ctx := context.Background()

	t.Run("Of and Collect", func(t *testing.T) {
		got, err := Collect(ctx, Of(1, 2, 3))
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		got, err := Collect(ctx, Empty[string]())
		if err != nil || len(got) != 0 {
			t.Errorf("expected empty completion, got %v, %v", got, err)
		}
	})

	t.Run("Map Filter Tap", func(t *testing.T) {
		var tapped []int
		obs := Map(
			Tap(Filter(Of(1, 2, 3, 4), func(v int) bool { return v%2 == 0 }), func(v int) { tapped = append(tapped, v) }),
			func(v int) string { return strings.Repeat("x", v) },
		)
		got, err := Collect(ctx, obs)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if diff := cmp.Diff([]string{"xx", "xxxx"}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{2, 4}, tapped); diff != "" {
			t.Errorf("tapped (-want +got):\n%s", diff)
		}
	})

	t.Run("Reduce", func(t *testing.T) {
		got, err := Last(ctx, Reduce(Of("a", "b", "c"), func(acc string, v string) string { return acc + v }, ""))
		if err != nil {
			t.Fatalf("Last failed: %v", err)
		}
		if got != "abc" {
			t.Errorf("expected abc, got %q", got)
		}
	})

	t.Run("Reduce empty emits seed", func(t *testing.T) {
		got, err := Last(ctx, Reduce(Empty[int](), func(acc, v int) int { return acc + v }, 7))
		if err != nil || got != 7 {
			t.Errorf("expected seed 7, got %d, %v", got, err)
		}
	})

	t.Run("Last without items", func(t *testing.T) {
		_, err := Last(ctx, Empty[int]())
		if !errors.Is(err, ErrNoItems) {
			t.Errorf("expected ErrNoItems, got %v", err)
		}
	})

	t.Run("Take", func(t *testing.T) {
		got, err := Collect(ctx, Take(Of(1, 2, 3, 4), 2))
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
		got, _ = Collect(ctx, Take(Of(1, 2), 0))
		if len(got) != 0 {
			t.Errorf("expected no items, got %v", got)
		}
	})

	t.Run("error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Collect(ctx, Map(Throw[int](boom), func(v int) int { return v }))
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}

func TestMergeMap(t *testing.T) {
	ctx := context.Background()

	t.Run("synchronous inners", func(t *testing.T) {
		obs := MergeMap(Of(1, 2), func(v int) Observable[int] {
			return Of(v*10, v*10+1)
		})
		got, err := Collect(ctx, obs)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if diff := cmp.Diff([]int{10, 11, 20, 21}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("waits for inner completion", func(t *testing.T) {
		outer := &manual[int]{}
		inner := &manual[string]{}
		var r record[string]
		MergeMap(outer.observable(), func(int) Observable[string] {
			return inner.observable()
		}).Subscribe(ctx, r.observer())

		outer.sub(0).Next(1)
		outer.sub(0).Complete()
		if r.completes != 0 {
			t.Fatal("completed before inner finished")
		}

		inner.sub(0).Next("body")
		inner.sub(0).Complete()
		if r.completes != 1 {
			t.Errorf("expected completion, got %d", r.completes)
		}
		if diff := cmp.Diff([]string{"body"}, r.items); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("inner error tears everything down", func(t *testing.T) {
		outer := &manual[int]{}
		inner := &manual[string]{}
		var r record[string]
		MergeMap(outer.observable(), func(int) Observable[string] {
			return inner.observable()
		}).Subscribe(ctx, r.observer())

		outer.sub(0).Next(1)
		outer.sub(0).Next(2)
		boom := errors.New("boom")
		inner.sub(0).Error(boom)

		if r.err != boom {
			t.Errorf("expected boom, got %v", r.err)
		}
		if outer.torn() != 1 {
			t.Errorf("expected outer teardown, got %d", outer.torn())
		}
		if inner.torn() != 2 {
			t.Errorf("expected both inner teardowns, got %d", inner.torn())
		}
	})
}

func TestMergeMapUnsubscribeWhileInnerStarting(t *testing.T) {
	var (
		mu       sync.Mutex
		attached int
		detached int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	inner := Create(func(ctx context.Context, s Subscriber[string]) (Teardown, error) {
		close(entered)
		<-release
		mu.Lock()
		attached++
		mu.Unlock()
		return func() error {
			mu.Lock()
			detached++
			mu.Unlock()
			return nil
		}, nil
	})

	outer := &manual[int]{}
	var r record[string]
	sub, err := MergeMap(outer.observable(), func(int) Observable[string] {
		return inner
	}).Subscribe(context.Background(), r.observer())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		outer.sub(0).Next(1)
	}()
	<-entered

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	close(release)
	select {
	case <-delivered:
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for inner producer")
	}

	mu.Lock()
	defer mu.Unlock()
	if attached != 1 || detached != 1 {
		t.Errorf("inner subscription not torn down: attached=%d detached=%d", attached, detached)
	}
	if outer.torn() != 1 {
		t.Errorf("expected outer teardown, got %d", outer.torn())
	}
}

func TestMergeMapForgetsFinishedInners(t *testing.T) {
	ctx := context.Background()
	var m *merger[int]
	var r record[int]
	_, err := Create(func(ctx context.Context, s Subscriber[int]) (Teardown, error) {
		m = &merger[int]{out: s, inner: make(map[*innerSub]struct{}), active: 1}
		return m.teardown, nil
	}).Subscribe(ctx, r.observer())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	tracked := func() int {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.inner)
	}

	for i := 0; i < 3; i++ {
		m.subscribe(ctx, Of(i))
	}
	if n := tracked(); n != 0 {
		t.Errorf("expected completed inners to be dropped, %d tracked", n)
	}

	pending := &manual[int]{}
	m.subscribe(ctx, pending.observable())
	if n := tracked(); n != 1 {
		t.Fatalf("expected running inner to be tracked, %d tracked", n)
	}
	pending.sub(0).Complete()
	if n := tracked(); n != 0 {
		t.Errorf("expected finished inner to be dropped, %d tracked", n)
	}

	if diff := cmp.Diff([]int{0, 1, 2}, r.items); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if r.completes != 0 {
		t.Errorf("completed while the source is still active")
	}
}

func TestCollectContextCancel(t *testing.T) {
	m := &manual[int]{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Collect(ctx, m.observable())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if m.torn() != 1 {
		t.Errorf("expected teardown, got %d", m.torn())
	}
}
