package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

// subscriberQueueSize bounds each connection's outbound channel. Past
// this the hub drops the oldest queued event rather than block the
// publishing goroutine.
const subscriberQueueSize = 32

// Subscriber is one open GET /logs/stream connection.
type Subscriber struct {
	ID       uuid.UUID
	Outbound chan Event
}

// Hub fans Event values out to every open SSE connection (one
// Outbound chan and lifecycle per client). There is no per-subscriber
// channel filter, every connection sees every event.
type Hub struct {
	log *logger.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscriber
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:         log.With("component", "SSEHub"),
		subscribers: make(map[uuid.UUID]*Subscriber),
	}
}

// Subscribe registers a new connection and returns it; callers must
// call Unsubscribe when the connection closes.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New(),
		Outbound: make(chan Event, subscriberQueueSize),
	}
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	close(sub.Outbound)
}

// Count returns the number of currently open subscriber connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast delivers evt to every open subscriber, dropping the oldest
// queued event for any subscriber whose buffer is full rather than
// blocking — a slow SSE reader never stalls the runner's publish path.
func (h *Hub) Broadcast(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		select {
		case sub.Outbound <- evt:
		default:
			select {
			case <-sub.Outbound:
			default:
			}
			select {
			case sub.Outbound <- evt:
			default:
				h.log.Warn("sse subscriber queue still full after drop, skipping event", "subscriber", sub.ID.String())
			}
		}
	}
}
