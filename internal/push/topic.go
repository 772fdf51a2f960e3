package push

import "github.com/vovakirdan/jobchat/internal/proto"

// topic groups subscribers of the same job.
type topic struct {
	name        string
	subscribers map[*Subscriber]struct{}
}

func newTopic(name string) *topic {
	return &topic{
		name:        name,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// add inserts a subscriber. Returns true if newly added.
func (t *topic) add(s *Subscriber) bool {
	if _, exists := t.subscribers[s]; exists {
		return false
	}
	t.subscribers[s] = struct{}{}
	return true
}

// remove deletes a subscriber and closes its channel. Returns true if removed.
func (t *topic) remove(s *Subscriber) bool {
	if _, exists := t.subscribers[s]; !exists {
		return false
	}
	delete(t.subscribers, s)
	close(s.Events)
	return true
}

// broadcast delivers msg to every subscriber. A subscriber whose buffer is
// full is evicted and returned: it would otherwise miss msg silently, while a
// closed channel makes its client reconnect and resync.
func (t *topic) broadcast(msg proto.Message) (delivered int, evicted []*Subscriber) {
	for s := range t.subscribers {
		select {
		case s.Events <- msg:
			delivered++
		default:
			s.evicted = true
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		t.remove(s)
	}
	return delivered, evicted
}

func (t *topic) empty() bool {
	return len(t.subscribers) == 0
}
