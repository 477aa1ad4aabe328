// Package pubsub implements channel fan-out for PUBLISH/SUBSCRIBE.
//
// Every subscriber owns a bounded queue drained by its own session. A
// publisher never waits on a subscriber: when a queue is full the broker
// either drops the oldest queued message or disconnects the subscriber,
// depending on the OverflowPolicy.
package pubsub

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber queue capacity.
const DefaultBufferSize = 128

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect closes the subscriber; its session is expected to hang up.
	Disconnect
)

// String returns the policy name used in configuration.
func (p OverflowPolicy) String() string {
	if p == Disconnect {
		return "disconnect"
	}
	return "drop-oldest"
}

// Message is one published payload.
type Message struct {
	Channel string
	Payload []byte
}

// Broker maps channel names to their subscribers.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channel

	bufferSize int
	policy     OverflowPolicy

	published atomic.Int64
	dropped   atomic.Int64
}

// channel serialises fan-out so every subscriber sees the same order.
type channel struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-subscriber queue capacity.
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithOverflowPolicy sets what happens when a subscriber falls behind.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Broker) {
		b.policy = p
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		channels:   make(map[string]*channel),
		bufferSize: DefaultBufferSize,
		policy:     DropOldest,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSubscriber returns a subscriber with no channels.
func (b *Broker) NewSubscriber() *Subscriber {
	return &Subscriber{
		broker:   b,
		queue:    make(chan Message, b.bufferSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

// Subscribe adds sub to the named channel, creating it if needed, and
// returns how many channels sub is now subscribed to.
func (b *Broker) Subscribe(sub *Subscriber, name string) int {
	b.mu.Lock()
	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{subs: make(map[*Subscriber]struct{})}
		b.channels[name] = ch
	}
	ch.mu.Lock()
	ch.subs[sub] = struct{}{}
	ch.mu.Unlock()
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.channels[name] = struct{}{}
	return len(sub.channels)
}

// Unsubscribe removes sub from the named channel and returns how many
// channels sub is still subscribed to. A channel is dropped with its last
// subscriber.
func (b *Broker) Unsubscribe(sub *Subscriber, name string) int {
	b.mu.Lock()
	if ch, ok := b.channels[name]; ok {
		ch.mu.Lock()
		delete(ch.subs, sub)
		empty := len(ch.subs) == 0
		ch.mu.Unlock()
		if empty {
			delete(b.channels, name)
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	delete(sub.channels, name)
	return len(sub.channels)
}

// Publish delivers payload to every current subscriber of the channel and
// returns how many received it. The payload is copied.
func (b *Broker) Publish(name string, payload []byte) int64 {
	b.published.Add(1)

	b.mu.RLock()
	ch, ok := b.channels[name]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	msg := Message{Channel: name, Payload: append([]byte(nil), payload...)}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	receivers := int64(0)
	for sub := range ch.subs {
		if sub.deliver(msg, b.policy) {
			receivers++
		}
	}
	return receivers
}

// NumChannels returns the number of channels with at least one subscriber.
func (b *Broker) NumChannels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Stats returns broker counters.
func (b *Broker) Stats() map[string]int64 {
	return map[string]int64{
		"pubsub_channels":  int64(b.NumChannels()),
		"published":        b.published.Load(),
		"dropped_messages": b.dropped.Load(),
	}
}
