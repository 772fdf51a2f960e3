package chat

import (
	"iter"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Store is the ordered, deduplicated in-memory copy of one conversation.
// Persisted messages are kept sorted by Key; optimistic echoes are kept apart
// and render after them in composition order.
type Store struct {
	mu             sync.RWMutex
	conversationID string
	msgs           []Message
	byID           map[string]Message
	tokens         map[string]string // client token -> message id
	pending        []Message
}

// NewStore creates an empty store for a conversation.
func NewStore(conversationID string) *Store {
	return &Store{
		conversationID: conversationID,
		byID:           make(map[string]Message),
		tokens:         make(map[string]string),
	}
}

// ConversationID returns the conversation the store belongs to.
func (s *Store) ConversationID() string {
	return s.conversationID
}

// Append merges a batch of persisted messages and returns the ones that were
// not known yet. Invalid messages and messages of other conversations are skipped.
// A message whose client token matches an optimistic echo replaces that echo.
func (s *Store) Append(msgs ...Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []Message
	sorted := true
	for _, m := range msgs {
		if m.Pending || m.ConversationID != s.conversationID || m.Validate() != nil {
			continue
		}
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = m
		if m.ClientToken != "" {
			s.tokens[m.ClientToken] = m.ID
			s.dropPendingLocked(m.ClientToken)
		}
		if n := len(s.msgs); n > 0 && !s.msgs[n-1].Key().Less(m.Key()) {
			sorted = false
		}
		s.msgs = append(s.msgs, m)
		inserted = append(inserted, m)
	}
	if !sorted {
		slices.SortFunc(s.msgs, func(a, b Message) int {
			return a.Key().Compare(b.Key())
		})
	}
	return inserted
}

// AddPending records an optimistic echo for a send identified by its client
// token. It is a no-op if the canonical copy already arrived.
func (s *Store) AddPending(m Message) bool {
	if m.ClientToken == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, confirmed := s.tokens[m.ClientToken]; confirmed {
		return false
	}
	m.Pending = true
	m.ConversationID = s.conversationID
	if _, idx, ok := lo.FindIndexOf(s.pending, func(p Message) bool { return p.ClientToken == m.ClientToken }); ok {
		s.pending[idx] = m
		return true
	}
	s.pending = append(s.pending, m)
	return true
}

// DropPending removes the echo for token, if any.
func (s *Store) DropPending(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropPendingLocked(token)
}

func (s *Store) dropPendingLocked(token string) bool {
	before := len(s.pending)
	s.pending = lo.Reject(s.pending, func(p Message, _ int) bool { return p.ClientToken == token })
	return len(s.pending) != before
}

// Confirmed returns the persisted message carrying token.
func (s *Store) Confirmed(token string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return Message{}, false
	}
	m, ok := s.byID[id]
	return m, ok
}

// Get returns a persisted message by id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok
}

// Len returns the number of persisted messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// PendingLen returns the number of optimistic echoes.
func (s *Store) PendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Latest returns the key of the newest persisted message.
func (s *Store) Latest() Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return Key{}
	}
	return s.msgs[len(s.msgs)-1].Key()
}

// Oldest returns the key of the oldest persisted message.
func (s *Store) Oldest() Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return Key{}
	}
	return s.msgs[0].Key()
}

// Snapshot copies the current view: persisted messages oldest first, then echoes.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.msgs)+len(s.pending))
	out = append(out, s.msgs...)
	return append(out, s.pending...)
}

// View returns a lazy sequence over the current view. Every range over the
// returned sequence starts from a fresh snapshot, so it can be restarted.
func (s *Store) View() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range s.Snapshot() {
			if !yield(m) {
				return
			}
		}
	}
}

// Clear drops every message and echo.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.pending = nil
	s.byID = make(map[string]Message)
	s.tokens = make(map[string]string)
}
