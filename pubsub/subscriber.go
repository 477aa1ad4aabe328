package pubsub

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Subscriber is one session's view of the broker.
type Subscriber struct {
	broker *Broker
	queue  chan Message

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	channels map[string]struct{}

	dropped atomic.Int64
}

// Messages returns the delivery queue.
func (s *Subscriber) Messages() <-chan Message {
	return s.queue
}

// Done is closed when the subscriber is closed, either by Close or by the
// broker under the Disconnect policy.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Count returns the number of subscribed channels.
func (s *Subscriber) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Channels returns the subscribed channel names in sorted order.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Dropped returns how many messages were discarded for this subscriber.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes from every channel and closes Done. It is safe to
// call more than once.
func (s *Subscriber) Close() {
	for _, name := range s.Channels() {
		s.broker.Unsubscribe(s, name)
	}
	s.shutdown()
}

func (s *Subscriber) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// deliver enqueues msg without blocking. It runs with the channel lock
// held, so it must not touch broker or channel locks.
func (s *Subscriber) deliver(msg Message, policy OverflowPolicy) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	for {
		select {
		case s.queue <- msg:
			return true
		default:
		}

		if policy == Disconnect {
			s.broker.dropped.Add(1)
			s.shutdown()
			return false
		}

		select {
		case <-s.queue:
			s.dropped.Add(1)
			s.broker.dropped.Add(1)
		default:
		}
	}
}
