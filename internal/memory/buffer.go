package memory

// boundedFIFO keeps at most capacity items, dropping the oldest first.
type boundedFIFO[T any] struct {
	items    []T
	capacity int
}

func newBoundedFIFO[T any](capacity int) *boundedFIFO[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedFIFO[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// push appends v and reports how many items were evicted to make room.
func (b *boundedFIFO[T]) push(v T) int {
	b.items = append(b.items, v)
	evicted := 0
	if over := len(b.items) - b.capacity; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(b.items, b.items[over:])
		var zero T
		for i := n; i < len(b.items); i++ {
			b.items[i] = zero
		}
		b.items = b.items[:n]
		evicted = over
	}
	return evicted
}

func (b *boundedFIFO[T]) len() int { return len(b.items) }

// snapshot returns a copy of the items, oldest first.
func (b *boundedFIFO[T]) snapshot() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// last returns a copy of the newest n items, oldest first.
func (b *boundedFIFO[T]) last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(b.items) {
		n = len(b.items)
	}
	out := make([]T, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// replace loads items, keeping only the newest capacity entries.
func (b *boundedFIFO[T]) replace(items []T) {
	if len(items) > b.capacity {
		items = items[len(items)-b.capacity:]
	}
	b.items = append(b.items[:0], items...)
}
