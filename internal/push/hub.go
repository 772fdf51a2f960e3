// Package push fans persisted messages out to live subscribers of a job.
package push

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/metrics"
	"github.com/vovakirdan/jobchat/internal/proto"
)

// ErrStopped is returned once the hub's Run loop has exited.
var ErrStopped = errors.New("push hub stopped")

// Broker publishes messages to topics and manages subscriptions.
type Broker interface {
	Publish(ctx context.Context, topic string, msg proto.Message) error
	Subscribe(ctx context.Context, topic string) (*Subscriber, error)
	Unsubscribe(s *Subscriber)
}

type publication struct {
	topic string
	msg   proto.Message
}

// Hub is the in-process broker. A single goroutine owns every topic.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	publish    chan publication
	done       chan struct{}

	buffer int
	topics map[string]*topic
	log    *zerolog.Logger
}

var _ Broker = (*Hub)(nil)

// NewHub creates a hub whose subscribers queue up to buffer events.
func NewHub(buffer int, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		publish:    make(chan publication, 64),
		done:       make(chan struct{}),
		buffer:     buffer,
		topics:     make(map[string]*topic),
		log:        logger,
	}
}

// Run processes hub commands until ctx is cancelled, then closes every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case p := <-h.publish:
			h.handlePublish(p)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Subscribe registers a subscriber for topic. When it returns, every later
// Publish to topic reaches the subscriber.
func (h *Hub) Subscribe(ctx context.Context, topicName string) (*Subscriber, error) {
	s := NewSubscriber(uuid.NewString(), topicName, h.buffer)
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes s and closes its channel. It is a no-op for a
// subscriber that was already removed.
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish queues msg for every subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topicName string, msg proto.Message) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	select {
	case h.publish <- publication{topic: topicName, msg: msg}:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleRegister(s *Subscriber) {
	t, ok := h.topics[s.Topic]
	if !ok {
		t = newTopic(s.Topic)
		h.topics[s.Topic] = t
	}
	if t.add(s) {
		metrics.LiveSubscribers.Inc()
		h.log.Debug().Str("job_id", s.Topic).Str("subscriber_id", s.ID).Msg("subscriber registered")
	}
}

func (h *Hub) handleUnregister(s *Subscriber) {
	t, ok := h.topics[s.Topic]
	if !ok {
		return
	}
	if t.remove(s) {
		metrics.LiveSubscribers.Dec()
		h.log.Debug().Str("job_id", s.Topic).Str("subscriber_id", s.ID).Msg("subscriber removed")
	}
	if t.empty() {
		delete(h.topics, s.Topic)
	}
}

func (h *Hub) handlePublish(p publication) {
	t, ok := h.topics[p.topic]
	if !ok {
		return
	}
	delivered, evicted := t.broadcast(p.msg)
	metrics.PushDelivered.Add(float64(delivered))
	for _, s := range evicted {
		metrics.PushEvicted.Inc()
		metrics.LiveSubscribers.Dec()
		h.log.Warn().Str("job_id", p.topic).Str("subscriber_id", s.ID).Msg("slow subscriber evicted")
	}
	if t.empty() {
		delete(h.topics, p.topic)
	}
}

func (h *Hub) shutdown() {
	for name, t := range h.topics {
		for s := range t.subscribers {
			t.remove(s)
			metrics.LiveSubscribers.Dec()
		}
		delete(h.topics, name)
	}
	h.log.Debug().Msg("push hub stopped")
}
