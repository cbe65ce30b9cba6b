package events

import (
	"context"
	"sync"

	"tokenvault/internal/domain"
)

// Hub fans events out to in-process subscribers such as websocket clients.
// A subscriber whose buffer is full misses events rather than blocking the
// vault.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// Subscription receives events for one vault, or all vaults when Vault is
// empty.
type Subscription struct {
	Vault  domain.Address
	C      <-chan domain.Event
	c      chan domain.Event
	hub    *Hub
	once   sync.Once
	mu     sync.Mutex
	missed int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(vault domain.Address) *Subscription {
	c := make(chan domain.Event, h.buffer)
	s := &Subscription{Vault: vault, C: c, c: c, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.c)
	})
}

// Missed reports how many events were dropped for this subscriber.
func (s *Subscription) Missed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missed
}

func (h *Hub) Broadcast(e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.Vault != "" && s.Vault != e.Vault {
			continue
		}
		select {
		case s.c <- e:
		default:
			s.mu.Lock()
			s.missed++
			s.mu.Unlock()
		}
	}
}

// Publish makes the hub a vault publisher.
func (h *Hub) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		h.Broadcast(e)
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
