package stream

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscription channel capacity used when a caller
// passes a non-positive buffer size.
const DefaultBuffer = 64

// Subscription is a single consumer registration on a Hub. Values are
// delivered on C in publish order until Close is called.
type Subscription[T any] struct {
	C <-chan T

	ch      chan T
	hub     *Hub[T]
	once    sync.Once
	dropped atomic.Uint64
}

// Close unregisters the subscription and closes C. It is safe to call
// Close more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.hub.unregister(s)
	})
}

// Dropped returns the number of values that could not be delivered because
// the subscription buffer was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans out published values to any number of subscribers without ever
// blocking the publisher.
type Hub[T any] struct {
	mu      sync.RWMutex
	clients map[*Subscription[T]]struct{}
	closed  bool
}

// NewHub creates an empty Hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{clients: map[*Subscription[T]]struct{}{}}
}

// Subscribe registers a new consumer. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan T, buffer)
	sub := &Subscription[T]{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		sub.once.Do(func() {})
		return sub
	}

	h.clients[sub] = struct{}{}
	return sub
}

func (h *Hub[T]) unregister(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	close(sub.ch)
}

// Publish delivers v to every subscriber whose buffer has room.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.clients {
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters and closes every subscriber. Later subscriptions are
// closed immediately.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.ch)
	}
}
