package web

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/router"
)

// Envelope is one router event as sent to websocket clients.
type Envelope struct {
	Category router.Category `json:"category"`
	Time     time.Time       `json:"time"`
	Payload  any             `json:"payload"`
}

// Subscriber is the part of the router the hub attaches to.
type Subscriber interface {
	Subscribe(category router.Category, h router.Handler, opts ...router.Option)
}

// Hub fans router events out to websocket clients. A client whose buffer
// is full is dropped: its channel is closed and the stream handler exits.
type Hub struct {
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	subs    map[int]chan Envelope
	nextID  int
	dropped uint64
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, now: time.Now, subs: make(map[int]chan Envelope)}
}

// Attach subscribes the hub to every category in cats.
func (h *Hub) Attach(bus Subscriber, cats ...router.Category) {
	for _, cat := range cats {
		cat := cat
		bus.Subscribe(cat, router.Func("web.hub."+string(cat), func(payload any) error {
			h.Broadcast(cat, payload)
			return nil
		}))
	}
}

func (h *Hub) Broadcast(cat router.Category, payload any) {
	env := Envelope{Category: cat, Time: h.now().UTC(), Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- env:
		default:
			delete(h.subs, id)
			close(ch)
			h.dropped++
			h.log.Warn("web: dropping slow event client", zap.Int("client", id))
		}
	}
}

// Subscribe registers a client. The returned func unsubscribes and is safe
// to call after the hub already dropped the client.
func (h *Hub) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Envelope, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[id]; ok && cur == ch {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
