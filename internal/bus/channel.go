// Package bus provides the event bus that carries batch requests and
// batch outcome events.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

const defaultChannelBuffer = 100

// ErrBufferFull means a subscriber's queue is full and the message was not
// delivered to it.
var ErrBufferFull = errors.New("subscriber buffer full")

// ChannelBus delivers messages between goroutines of one process. Each
// subscription owns a bounded queue drained by its own goroutine.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	topics  map[string][]*channelSubscription
	closed  bool
	running sync.WaitGroup
	dropped atomic.Int64
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus returns a bus whose subscribers queue up to buffer messages.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &ChannelBus{
		buffer: buffer,
		topics: make(map[string][]*channelSubscription),
	}
}

// Publish queues a message for every subscriber of topic without blocking.
// A subscriber with a full queue misses the message; the others still get
// it and ErrBufferFull is returned.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}

	var err error
	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			err = ErrBufferFull
		}
	}
	return err
}

// Subscribe starts a goroutine feeding topic's messages to handler one at
// a time, in publish order.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.running.Add(1)
	go func() {
		defer b.running.Done()
		sub.drain()
	}()
	return sub, nil
}

func (s *channelSubscription) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped returns how many deliveries were lost to full queues.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription and waits for running handlers to
// return. Queued messages are dropped.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	clear(b.topics)
	b.mu.Unlock()

	// Handlers may publish; they see ErrClosed instead of blocking here.
	b.running.Wait()
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(b.topics[sub.topic], func(s *channelSubscription) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = subs
}

// Unsubscribe stops delivery. A handler already running finishes.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
