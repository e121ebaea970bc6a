package watchhub

import (
	"sync"
)

// Hub is an in-process pubsub for relay messages (SSE and websocket clients).
// Best-effort broadcast with bounded per-subscriber buffers.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[chan T]struct{}
	dropped uint64
}

func New[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[chan T]struct{})}
}

func (h *Hub[T]) Subscribe(buf int) chan T {
	ch := make(chan T, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (h *Hub[T]) Unsubscribe(ch chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
			// drop if slow consumer
			h.dropped++
		}
	}
}

func (h *Hub[T]) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts messages not delivered to slow subscribers.
func (h *Hub[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
