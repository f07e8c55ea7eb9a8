// Package broker fans domain events out to in-process subscribers.
//
// Publishing never blocks and never fails. Each subscriber owns a bounded
// buffer; when it is full the event is dropped for that subscriber only.
// Subscribers see events published after they subscribed, in publish order.
package broker

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/mmcdole/reel/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 256

// Broker is the process-wide event bus
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// New creates a broker. A non-positive buffer uses DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers e to every interested subscriber without waiting
func (b *Broker) Publish(e Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	metrics.EventsPublished.WithLabelValues(string(e.Kind())).Inc()
	for sub := range b.subs {
		if !sub.deliver(e) {
			metrics.EventsDropped.WithLabelValues(string(e.Kind())).Inc()
			b.logger.Warn("subscriber buffer full, dropping event",
				"kind", e.Kind(), "source", e.Source())
		}
	}
}

// Subscribe registers interest in the given kinds (all kinds when none are
// given). The subscription ends when ctx is done or Close is called.
func (b *Broker) Subscribe(ctx context.Context, kinds ...Kind) *Subscription {
	sub := &Subscription{
		broker: b,
		ch:     make(chan Event, b.buffer),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closeChannel()
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Close)
		sub.mu.Lock()
		sub.stop = stop
		sub.mu.Unlock()
	}
	return sub
}

// Close ends every subscription and turns later publishes into no-ops
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.closeChannel()
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus
type Subscription struct {
	broker *Broker
	kinds  map[Kind]struct{}
	ch     chan Event

	mu     sync.Mutex
	stop   func() bool
	closed bool
}

// All yields events until the subscription closes. Breaking out of the loop
// leaves the subscription open, so ranging again resumes where it stopped.
func (s *Subscription) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for e := range s.ch {
			if !yield(e) {
				return
			}
		}
	}
}

// C exposes the raw channel for select loops
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close stops delivery; safe to call more than once
func (s *Subscription) Close() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.broker.remove(s)
	s.closeChannel()
}

func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// deliver reports false only when the event was wanted but dropped
func (s *Subscription) deliver(e Event) bool {
	if s.kinds != nil {
		if _, ok := s.kinds[e.Kind()]; !ok {
			return true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}
