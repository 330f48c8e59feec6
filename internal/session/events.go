package session

import (
	"sync"
	"sync/atomic"
	"time"

	"autoloom/internal/logging"
)

// EventType names a session event.
type EventType string

const (
	EventRoundStarted   EventType = "round.started"
	EventGenerated      EventType = "round.generated"
	EventScored         EventType = "round.scored"
	EventRanked         EventType = "round.ranked"
	EventCountdownTick  EventType = "round.countdown"
	EventManualOverride EventType = "round.manual_override"
	EventCommitted      EventType = "round.committed"
	EventRoundFailed    EventType = "round.failed"
	EventStatus         EventType = "status"
)

// Event is published on the Hub at every state transition.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Round     int       `json:"round"`
	State     State     `json:"state"`
	Index     int       `json:"index,omitempty"`
	Score     int       `json:"score,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
	Text      string    `json:"text,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

const (
	subscriberBuffer = 64
	defaultBacklog   = 256
)

// Hub fans events out to subscribers. Slow subscribers lose events instead of
// blocking the round.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]chan Event
	nextID  int
	closed  bool

	backlogMu  sync.Mutex
	backlog    []Event
	maxBacklog int

	dropped atomic.Int64
	logger  logging.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int]chan Event),
		maxBacklog: defaultBacklog,
		logger:     logging.NewComponentLogger("Hub"),
	}
}

// Subscribe registers a subscriber. The returned cancel func unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.clients[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.remember(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Dropping %s event for subscriber %d: buffer full", ev.Type, id)
		}
	}
}

func (h *Hub) remember(ev Event) {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	h.backlog = append(h.backlog, ev)
	if over := len(h.backlog) - h.maxBacklog; over > 0 {
		h.backlog = append([]Event(nil), h.backlog[over:]...)
	}
}

// Recent returns the retained backlog, oldest first.
func (h *Hub) Recent() []Event {
	h.backlogMu.Lock()
	defer h.backlogMu.Unlock()
	return append([]Event(nil), h.backlog...)
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}
