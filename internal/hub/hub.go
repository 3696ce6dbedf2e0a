// Package hub fans topology events out to websocket viewers.
//
// Each subscriber owns a bounded queue. Publishing never blocks: a
// subscriber that falls behind loses its oldest queued events and receives
// one synthetic resync marker telling it to re-request the full tree. Order
// is FIFO per subscriber; the gap is explicit, never silent.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"usbscope/internal/domain"
	"usbscope/internal/logger"
)

// DefaultQueueSize bounds a subscriber's event queue.
const DefaultQueueSize = 64

type client struct {
	id     string
	events chan domain.Event

	mu           sync.Mutex
	resyncQueued bool
	closed       bool
}

// Hub manages event subscribers.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*client
	queueSize int
	snapshot  func() *domain.Snapshot
	log       zerolog.Logger
}

// New creates a hub. snapshot supplies the current tree for the full_tree
// event every new subscriber receives first.
func New(queueSize int, snapshot func() *domain.Snapshot) *Hub {
	if queueSize < 2 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		clients:   make(map[string]*client),
		queueSize: queueSize,
		snapshot:  snapshot,
		log:       logger.WithComponent("hub"),
	}
}

// Subscribe registers a new subscriber and returns its id and event channel.
// The first event on the channel is always the current full tree.
func (h *Hub) Subscribe() (string, <-chan domain.Event) {
	c := &client{
		id:     uuid.NewString(),
		events: make(chan domain.Event, h.queueSize),
	}
	c.events <- domain.NewFullTree(h.snapshot(), time.Now())

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Int("total", total).Msg("subscriber connected")
	return c.id, c.events
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	c.mu.Lock()
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	h.log.Debug().Str("client", id).Int("total", total).Msg("subscriber disconnected")
}

// Publish delivers an event to every subscriber without ever blocking.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.offer(ev) {
			h.log.Warn().Str("client", c.id).Str("type", string(ev.Type)).Msg("subscriber overflowed")
		}
	}
}

// Send delivers an event to one subscriber only, used for replies to that
// subscriber's own control messages.
func (h *Hub) Send(id string, ev domain.Event) {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()

	if c != nil {
		c.offer(ev)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// offer enqueues without blocking. On a full queue it evicts the oldest
// event to make room and, once per gap, injects a resync marker so the
// subscriber knows its stream is no longer complete. Returns false when the
// queue overflowed.
func (c *client) offer(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.events <- ev:
		return true
	default:
	}

	// Full. Evict the oldest to make room.
	select {
	case old := <-c.events:
		if old.Type == domain.EventResync {
			c.resyncQueued = false
		}
	default:
	}

	if !c.resyncQueued {
		c.resyncQueued = true
		select {
		case c.events <- domain.NewResync(ev.Time):
		default:
			c.resyncQueued = false
		}
		// The marker took the freed slot; evict once more for the event.
		select {
		case c.events <- ev:
			return false
		default:
		}
		select {
		case old := <-c.events:
			if old.Type == domain.EventResync {
				c.resyncQueued = false
			}
		default:
		}
	}

	select {
	case c.events <- ev:
	default:
	}
	return false
}

// markerDelivered clears the gap flag once the resync marker reached the
// wire, so a later overflow produces a fresh marker.
func (h *Hub) markerDelivered(id string) {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()

	if c == nil {
		return
	}
	c.mu.Lock()
	c.resyncQueued = false
	c.mu.Unlock()
}
