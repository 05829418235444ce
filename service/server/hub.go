package server

import (
	"log/slog"
	"sync"

	"github.com/brojonat/nodedash/service/link"
	"github.com/brojonat/nodedash/service/metrics"
)

const subscriberBuffer = 64

// Hub fans dashboard events out to connected stream clients. A client that
// falls behind loses events instead of blocking the broadcaster.
type Hub struct {
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one client's event feed.
type Subscription struct {
	hub       *Hub
	transport string
	ch        chan link.Message
	once      sync.Once
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		metrics: m,
		logger:  logger,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a client. transport labels metrics ("ws" or "sse").
// After Close the returned subscription's channel is already closed.
func (h *Hub) Subscribe(transport string) *Subscription {
	sub := &Subscription{hub: h, transport: transport, ch: make(chan link.Message, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	h.subs[sub] = struct{}{}
	if h.metrics != nil {
		h.metrics.RecordStreamClientChange(transport, 1)
	}
	return sub
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan link.Message {
	return s.ch
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.once.Do(func() {
		delete(h.subs, sub)
		close(sub.ch)
		if h.metrics != nil {
			h.metrics.RecordStreamClientChange(sub.transport, -1)
		}
	})
}

// Broadcast delivers msg to every subscriber without blocking.
func (h *Hub) Broadcast(msg link.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping event for slow stream client",
				"transport", sub.transport,
				"type", msg.Type,
			)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}
