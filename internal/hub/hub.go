package hub

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultSendBuffer is how many frames a subscriber may fall behind before
// the hub gives up on it.
const DefaultSendBuffer = 256

// Subscriber represents a single connected peer that receives every frame broadcast by the Hub.
// It contains the channel through which the Hub sends frames to the peer.
type Subscriber struct {
	ID   string
	Name string

	// Send is a buffered channel of outbound frames. The Hub sends frames
	// to this channel and closes it when the subscriber is removed.
	Send chan []byte
}

// NewSubscriber creates a subscriber with a fresh ID and a send buffer of the given size.
func NewSubscriber(name string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Subscriber{
		ID:   uuid.NewString(),
		Name: name,
		Send: make(chan []byte, buffer),
	}
}

// Hub is a concurrent frame fan-out. It maintains the set of active
// subscribers and broadcasts every frame to all of them, sender included.
type Hub struct {
	// Registered subscribers.
	subscribers map[*Subscriber]bool

	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber

	// done is closed when Run returns.
	done chan struct{}

	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates and returns a new Hub instance. metrics may be nil.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		broadcast:   make(chan []byte),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
		subscribers: make(map[*Subscriber]bool),
		metrics:     metrics,
		logger:      slog.Default().With("component", "hub"),
	}
}

// Register adds s to the hub. It returns false if the hub has stopped.
func (h *Hub) Register(s *Subscriber) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes s and closes its Send channel. Unknown subscribers are ignored.
func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Broadcast queues frame for every registered subscriber. It returns false if the hub has stopped.
func (h *Hub) Broadcast(frame []byte) bool {
	select {
	case h.broadcast <- frame:
		return true
	case <-h.done:
		return false
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the Hub's frame processing loop. It must be run in a separate
// goroutine. When ctx is done every subscriber's Send channel is closed and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for subscriber := range h.subscribers {
				h.remove(subscriber)
			}
			h.logger.Info("Hub stopped")
			return

		case subscriber := <-h.register:
			h.subscribers[subscriber] = true
			h.metrics.setSubscribers(len(h.subscribers))
			h.logger.Info("New subscriber registered", "subscriber_id", subscriber.ID, "process", subscriber.Name, "total_subscribers", len(h.subscribers))

		case subscriber := <-h.unregister:
			if _, ok := h.subscribers[subscriber]; ok {
				h.remove(subscriber)
				h.logger.Info("Subscriber unregistered", "subscriber_id", subscriber.ID, "total_subscribers", len(h.subscribers))
			}

		case frame := <-h.broadcast:
			h.metrics.frameReceived()
			for subscriber := range h.subscribers {
				// Use a non-blocking send. If the subscriber's buffer is full,
				// the peer is lagging or gone.
				select {
				case subscriber.Send <- frame:
					h.metrics.frameDelivered()
				default:
					h.remove(subscriber)
					h.metrics.slowSubscriberDropped()
					h.logger.Warn("Unregistering slow subscriber", "subscriber_id", subscriber.ID, "process", subscriber.Name, "total_subscribers", len(h.subscribers))
				}
			}
		}
	}
}

func (h *Hub) remove(s *Subscriber) {
	delete(h.subscribers, s)
	close(s.Send)
	h.metrics.setSubscribers(len(h.subscribers))
}
