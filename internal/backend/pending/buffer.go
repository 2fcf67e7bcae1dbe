package pending

import "sync"

// ring is a bounded FIFO that overwrites its oldest element when full.
type ring struct {
	mu       sync.Mutex
	items    []Write
	head     int // next write position
	tail     int // oldest element
	count    int
	capacity int
	dropped  int64
}

func newRing(capacity int) *ring {
	return &ring{items: make([]Write, capacity), capacity: capacity}
}

func (b *ring) push(w Write) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}
	b.items[b.head] = w
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// snapshot copies the contents oldest first without consuming them.
func (b *ring) snapshot() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Write, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.tail+i)%b.capacity]
	}
	return out
}

// drain removes and returns everything, oldest first.
func (b *ring) drain() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Write, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[b.tail]
		b.items[b.tail] = Write{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count = 0
	return out
}

func (b *ring) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ring) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
