package camera

// RingBuffer holds the most recent N items, where N is exactly the capacity it was created with.
// Evicted items are handed back to the caller, so that they can be released.
type RingBuffer[T any] struct {
	items []T
	start int // items[start] is the oldest element
	count int
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{
		items: make([]T, max(capacity, 0)),
	}
}

// Add appends item. If the buffer was full, the oldest item is removed and returned.
func (r *RingBuffer[T]) Add(item T) (evicted T, didEvict bool) {
	if len(r.items) == 0 {
		return item, true
	}
	if r.count < len(r.items) {
		r.items[(r.start+r.count)%len(r.items)] = item
		r.count++
		return
	}
	evicted = r.items[r.start]
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
	return evicted, true
}

func (r *RingBuffer[T]) Len() int {
	return r.count
}

func (r *RingBuffer[T]) Cap() int {
	return len(r.items)
}

// Items returns the contents, oldest first
func (r *RingBuffer[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Clear empties the buffer, and returns what it held, oldest first
func (r *RingBuffer[T]) Clear() []T {
	out := r.Items()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.count = 0
	return out
}
