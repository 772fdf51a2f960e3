package push

import "github.com/vovakirdan/jobchat/internal/proto"

// Subscriber receives every message published to one topic after it was
// registered. Events is closed when the subscriber is unsubscribed, evicted
// for falling behind, or the hub stops.
type Subscriber struct {
	ID     string
	Topic  string
	Events chan proto.Message

	// evicted is written by the hub goroutine before Events is closed.
	evicted bool
}

// NewSubscriber constructs a subscriber with a buffer of size pending events.
func NewSubscriber(id, topic string, size int) *Subscriber {
	if size <= 0 {
		size = 1
	}
	return &Subscriber{
		ID:     id,
		Topic:  topic,
		Events: make(chan proto.Message, size),
	}
}

// Evicted reports whether the subscriber was dropped for being slow. It is
// only meaningful after Events has been closed.
func (s *Subscriber) Evicted() bool { return s.evicted }
