// Package redis exposes a Redis pub/sub subscription as an event source.
//
// A PubSub emits:
//   - "message" with every *redis.Message received
//   - "subscribe" with every *redis.Subscription confirmation
//   - "error" when receiving fails
//   - "end" after Close
//
// Receiving starts when the first "message" listener attaches.
//
// Example:
//
//	ps := redis.Subscribe(ctx, client, "orders")
//	defer ps.Close()
//	obs, _ := eventrx.FromEvents[*goredis.Message](redis.PubSubMap, ps)
package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
	"github.com/redis/go-redis/v9"
)

// PubSubMap adapts a PubSub. Items are *redis.Message values.
var PubSubMap = eventrx.EventMap{
	Name:      "redis.pubsub",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"end"},
}

// Client is the subset of the Redis client a PubSub needs.
// redis.UniversalClient satisfies it.
type Client interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub
}

// PubSub emits the messages of a Redis pub/sub subscription.
type PubSub struct {
	*emitter.EventEmitter

	ps     *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe subscribes to channels. Cancelling ctx ends the subscription.
func Subscribe(ctx context.Context, client Client, channels ...string) *PubSub {
	return newPubSub(ctx, func(ctx context.Context) *redis.PubSub {
		return client.Subscribe(ctx, channels...)
	})
}

// PSubscribe subscribes to channel patterns.
func PSubscribe(ctx context.Context, client Client, patterns ...string) *PubSub {
	return newPubSub(ctx, func(ctx context.Context) *redis.PubSub {
		return client.PSubscribe(ctx, patterns...)
	})
}

func newPubSub(ctx context.Context, open func(context.Context) *redis.PubSub) *PubSub {
	ctx, cancel := context.WithCancel(ctx)
	p := &PubSub{
		ctx:    ctx,
		cancel: cancel,
		logger: emitter.Logger("redis>pubsub"),
		done:   make(chan struct{}),
	}
	p.ps = open(ctx)
	p.EventEmitter = emitter.New(
		emitter.WithLogger(p.logger),
		emitter.WithListenHook(p.onListen),
	)
	return p
}

func (p *PubSub) onListen(name string) {
	if name == "message" && p.started.CompareAndSwap(false, true) {
		go p.receive()
	}
}

func (p *PubSub) receive() {
	for {
		msg, err := p.ps.Receive(p.ctx)
		if err != nil {
			if p.closed.Load() || p.ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				p.finish()
				return
			}
			p.logger.Debug("receive failed", "error", err)
			p.Emit("error", err)
			p.Close()
			return
		}

		switch m := msg.(type) {
		case *redis.Message:
			p.Emit("message", m)
		case *redis.Subscription:
			p.Emit("subscribe", m)
		case *redis.Pong:
		default:
			p.logger.Debug("unexpected pubsub reply", "type", m)
		}
	}
}

// Close unsubscribes and emits "end" once.
func (p *PubSub) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := p.ps.Close()
	if !p.started.Load() {
		p.finish()
	}
	return err
}

func (p *PubSub) finish() {
	p.closeOnce.Do(func() {
		p.Emit("end")
		close(p.done)
	})
}

// Done returns a channel closed after "end" has been emitted.
func (p *PubSub) Done() <-chan struct{} {
	return p.done
}
