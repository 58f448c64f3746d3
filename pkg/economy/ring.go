package economy

import "fmt"

// Ring is a bounded ordered queue. Capacity is fixed at construction; the
// overflow policy (reject or evict-oldest) is the caller's choice per push.
type Ring[T any] struct {
	capacity int
	items    []T
}

// NewRing builds an empty ring with the given capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	return &Ring[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}, nil
}

// Push appends an item, reporting false when the ring is full.
func (ring *Ring[T]) Push(item T) bool {
	if len(ring.items) >= ring.capacity {
		return false
	}
	ring.items = append(ring.items, item)
	return true
}

// PushEvict appends an item, evicting the oldest entry when full.
// It reports whether an eviction happened.
func (ring *Ring[T]) PushEvict(item T) bool {
	if len(ring.items) < ring.capacity {
		ring.items = append(ring.items, item)
		return false
	}
	copy(ring.items, ring.items[1:])
	ring.items[len(ring.items)-1] = item
	return true
}

// Compact keeps only items matching keep, preserving relative order, and
// returns the number removed.
func (ring *Ring[T]) Compact(keep func(T) bool) int {
	writeIndex := 0
	for readIndex := 0; readIndex < len(ring.items); readIndex++ {
		if keep(ring.items[readIndex]) {
			ring.items[writeIndex] = ring.items[readIndex]
			writeIndex++
		}
	}
	removed := len(ring.items) - writeIndex
	ring.items = ring.items[:writeIndex]
	return removed
}

// Len returns the current item count.
func (ring *Ring[T]) Len() int {
	return len(ring.items)
}

// Capacity returns the fixed capacity.
func (ring *Ring[T]) Capacity() int {
	return ring.capacity
}

// At returns the item at index.
func (ring *Ring[T]) At(index int) T {
	return ring.items[index]
}

// Set replaces the item at index.
func (ring *Ring[T]) Set(index int, item T) {
	ring.items[index] = item
}

// Items returns a copy of the queue contents in order.
func (ring *Ring[T]) Items() []T {
	snapshot := make([]T, len(ring.items))
	copy(snapshot, ring.items)
	return snapshot
}

// Restore replaces the contents from a persisted snapshot, clamping to
// capacity. Anything read from storage beyond capacity is dropped.
func (ring *Ring[T]) Restore(items []T) {
	if len(items) > ring.capacity {
		items = items[:ring.capacity]
	}
	ring.items = ring.items[:0]
	ring.items = append(ring.items, items...)
}
