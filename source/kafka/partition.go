// Package kafka exposes Kafka consumers as event sources.
//
// A Partition consumes one topic partition and a Group consumes topics as a
// member of a consumer group. Both emit:
//   - "message" with every *sarama.ConsumerMessage
//   - "error" with consumer errors
//   - "close" once consumption stopped
//
// Consumption starts when the first "message" listener attaches.
//
// Example:
//
//	p := kafka.NewPartition(consumer, "orders", 0, sarama.OffsetNewest)
//	defer p.Close()
//	obs, _ := eventrx.FromEvents[*sarama.ConsumerMessage](kafka.PartitionMap, p)
package kafka

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/emitter"
)

// PartitionMap adapts a Partition. Items are *sarama.ConsumerMessage values.
var PartitionMap = eventrx.EventMap{
	Name:      "kafka.partition",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
}

// GroupMap adapts a Group. Items are *sarama.ConsumerMessage values.
var GroupMap = eventrx.EventMap{
	Name:      "kafka.group",
	Nexts:     []string{"message"},
	Errors:    []string{"error"},
	Completes: []string{"close"},
}

// Option configures a Partition or Group
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(component string, opts []Option) *options {
	o := &options{logger: emitter.Logger(component)}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Partition emits the messages of one topic partition.
type Partition struct {
	*emitter.EventEmitter

	consumer  sarama.Consumer
	topic     string
	partition int32
	offset    int64
	logger    *slog.Logger

	mu        sync.Mutex
	pc        sarama.PartitionConsumer
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewPartition prepares a consumer for topic/partition starting at offset
// (or sarama.OffsetOldest / sarama.OffsetNewest). Errors are only delivered
// when the consumer config sets Consumer.Return.Errors.
func NewPartition(consumer sarama.Consumer, topic string, partition int32, offset int64, opts ...Option) *Partition {
	o := newOptions("kafka>partition", opts)
	p := &Partition{
		consumer:  consumer,
		topic:     topic,
		partition: partition,
		offset:    offset,
		logger:    o.logger.With("topic", topic, "partition", partition),
		done:      make(chan struct{}),
	}
	p.EventEmitter = emitter.New(
		emitter.WithLogger(p.logger),
		emitter.WithListenHook(p.onListen),
	)
	return p
}

func (p *Partition) onListen(name string) {
	if name != "message" || p.closed.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}

	pc, err := p.consumer.ConsumePartition(p.topic, p.partition, p.offset)
	if err != nil {
		p.logger.Warn("consume partition failed", "error", err)
		p.Emit("error", err)
		p.finish()
		return
	}
	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()
	p.logger.Debug("consuming", "offset", p.offset)
	go p.consume(pc)
}

func (p *Partition) consume(pc sarama.PartitionConsumer) {
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil || errs != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			p.Emit("message", msg)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.Emit("error", err)
		}
	}
	p.finish()
}

// HighWaterMarkOffset returns the offset the next produced message will get,
// or -1 before consumption started.
func (p *Partition) HighWaterMarkOffset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil {
		return -1
	}
	return p.pc.HighWaterMarkOffset()
}

// Close stops consuming. "close" is emitted once the partition consumer has
// shut down.
func (p *Partition) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		p.finish()
		return nil
	}
	pc.AsyncClose()
	return nil
}

func (p *Partition) finish() {
	p.closeOnce.Do(func() {
		p.Emit("close")
		close(p.done)
	})
}

// Done returns a channel closed after "close" has been emitted.
func (p *Partition) Done() <-chan struct{} {
	return p.done
}
