package recorder

import "sync"

// Buffer is a thread-safe append-only buffer that keeps values in arrival
// order until they are drained.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
}

// Append adds v to the end of the buffer
func (b *Buffer[T]) Append(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, v)
}

// DrainAll removes and returns all values in arrival order.
// Returns nil if the buffer is empty.
func (b *Buffer[T]) DrainAll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}

	items := b.items
	b.items = nil
	return items
}

// Size returns the current number of values in the buffer.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear removes all values from the buffer.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}
