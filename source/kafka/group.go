package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/eventrx/emitter"
)

// Group emits the messages a consumer group member is assigned. Every
// message is marked as consumed after its listeners returned.
type Group struct {
	*emitter.EventEmitter

	group  sarama.ConsumerGroup
	topics []string
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewGroup prepares consumption of topics through group. The group is closed
// when the Group is closed or ctx is cancelled.
func NewGroup(ctx context.Context, group sarama.ConsumerGroup, topics []string, opts ...Option) *Group {
	o := newOptions("kafka>group", opts)
	ctx, cancel := context.WithCancel(ctx)
	g := &Group{
		group:  group,
		topics: topics,
		logger: o.logger.With("topics", topics),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.EventEmitter = emitter.New(
		emitter.WithLogger(g.logger),
		emitter.WithListenHook(g.onListen),
	)
	return g
}

func (g *Group) onListen(name string) {
	if name != "message" || g.ctx.Err() != nil || !g.started.CompareAndSwap(false, true) {
		return
	}
	go g.forwardErrors()
	go g.consume()
}

// consume runs group sessions until the context ends. Consume returns on
// every rebalance and must be called again.
func (g *Group) consume() {
	defer g.finish()
	handler := &groupHandler{g: g}
	for g.ctx.Err() == nil {
		if err := g.group.Consume(g.ctx, g.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || g.ctx.Err() != nil {
				return
			}
			g.logger.Warn("consume failed", "error", err)
			g.Emit("error", err)
			return
		}
	}
}

func (g *Group) forwardErrors() {
	for err := range g.group.Errors() {
		g.Emit("error", err)
	}
}

// Close leaves the group and emits "close" once.
func (g *Group) Close() error {
	g.cancel()
	err := g.group.Close()
	if !g.started.Load() {
		g.finish()
	}
	return err
}

func (g *Group) finish() {
	g.closeOnce.Do(func() {
		g.Emit("close")
		close(g.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	g *Group
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.g.Emit("message", msg)
			session.MarkMessage(msg, "")
		}
	}
}
