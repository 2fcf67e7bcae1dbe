package backend

import (
	"sync"
)

// DefaultHubBuffer is the per-subscriber event buffer.
const DefaultHubBuffer = 64

// Hub fans change events out to per-table subscribers. A subscriber whose
// buffer is full is dropped with ErrSlowConsumer rather than blocking the
// publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub; buffer <= 0 uses DefaultHubBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub{subs: make(map[*hubSubscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber for table.
func (h *Hub) Subscribe(table string) Subscription {
	sub := &hubSubscription{
		hub:   h,
		table: table,
		ch:    make(chan ChangeEvent, h.buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.err = ErrFeedInterrupted
		close(sub.ch)
		sub.done = true
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber of ev.Table().
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.table != ev.Table() {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.endLocked(sub, ErrSlowConsumer)
		}
	}
}

// Interrupt ends every current subscription with err. The hub keeps
// accepting new subscribers.
func (h *Hub) Interrupt(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.endLocked(sub, err)
	}
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.endLocked(sub, ErrFeedInterrupted)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) endLocked(sub *hubSubscription, err error) {
	if sub.done {
		return
	}
	sub.done = true
	sub.err = err
	delete(h.subs, sub)
	close(sub.ch)
}

type hubSubscription struct {
	hub   *Hub
	table string
	ch    chan ChangeEvent
	// guarded by hub.mu
	done bool
	err  error
}

func (s *hubSubscription) Events() <-chan ChangeEvent { return s.ch }

func (s *hubSubscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.endLocked(s, nil)
	return nil
}
