package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory persistent log plus push channel.
type fakeBackend struct {
	mu sync.Mutex

	conversations map[string][]Message
	streams       map[*fakeStream]struct{}
	nextID        int
	clock         time.Time

	muted        bool // persist without pushing
	dialErr      error
	loadErrs     []error // consumed one per LoadHistory call
	uploadErr    error
	persistErr   error
	loads        []Page
	uploads      int
	persists     int
	dials        int
	onLoadCalled func(Page)
}

func newFakeBackend(conversationIDs ...string) *fakeBackend {
	b := &fakeBackend{
		conversations: make(map[string][]Message),
		streams:       make(map[*fakeStream]struct{}),
		nextID:        1000,
		clock:         time.Unix(1000, 0),
	}
	for _, id := range conversationIDs {
		b.conversations[id] = nil
	}
	return b
}

func msgAt(id string, sec int64) Message {
	return Message{ID: id, ConversationID: "job", SenderID: "u1", CreatedAt: time.Unix(sec, 0), Text: "m" + id}
}

// seed stores messages without pushing them.
func (b *fakeBackend) seed(msgs ...Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.conversations[m.ConversationID] = append(b.conversations[m.ConversationID], m)
	}
	for id := range b.conversations {
		sortMessages(b.conversations[id])
	}
}

func sortMessages(msgs []Message) {
	slices.SortFunc(msgs, func(a, c Message) int { return a.Key().Compare(c.Key()) })
}

func (b *fakeBackend) LoadHistory(_ context.Context, conversationID string, page Page) ([]Message, error) {
	b.mu.Lock()
	b.loads = append(b.loads, page)
	hook := b.onLoadCalled
	if len(b.loadErrs) > 0 {
		err := b.loadErrs[0]
		b.loadErrs = b.loadErrs[1:]
		b.mu.Unlock()
		return nil, err
	}
	all, ok := b.conversations[conversationID]
	all = slices.Clone(all)
	b.mu.Unlock()

	if hook != nil {
		hook(page)
	}
	if !ok {
		return nil, ErrNotFound
	}

	var out []Message
	switch {
	case page.After != nil:
		for _, m := range all {
			if page.After.Less(m.Key()) {
				out = append(out, m)
			}
			if len(out) == page.Limit {
				break
			}
		}
	case page.Before != nil:
		for _, m := range all {
			if m.Key().Less(*page.Before) {
				out = append(out, m)
			}
		}
		if len(out) > page.Limit {
			out = out[len(out)-page.Limit:]
		}
	default:
		out = all
		if len(out) > page.Limit {
			out = out[len(out)-page.Limit:]
		}
	}
	return out, nil
}

func (b *fakeBackend) Dial(ctx context.Context, conversationID string) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	if _, ok := b.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	s := &fakeStream{ch: make(chan Message, 64), closed: make(chan struct{}), conversationID: conversationID}
	b.streams[s] = struct{}{}
	return s, nil
}

func (b *fakeBackend) Upload(_ context.Context, conversationID string, a Attachment) (Uploaded, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	if b.uploadErr != nil {
		return Uploaded{}, b.uploadErr
	}
	if _, err := io.ReadAll(a.Body); err != nil {
		return Uploaded{}, err
	}
	ref := fmt.Sprintf("%s/%d_%s", conversationID, b.uploads, a.Name)
	return Uploaded{Ref: ref, URL: "https://objects.test/" + ref}, nil
}

func (b *fakeBackend) CreateMessage(_ context.Context, conversationID string, d Draft) (Message, error) {
	b.mu.Lock()
	b.persists++
	if b.persistErr != nil {
		err := b.persistErr
		b.mu.Unlock()
		return Message{}, err
	}
	msgs, ok := b.conversations[conversationID]
	if !ok {
		b.mu.Unlock()
		return Message{}, ErrNotFound
	}
	for _, m := range msgs {
		if d.ClientToken != "" && m.ClientToken == d.ClientToken {
			b.mu.Unlock()
			return m, nil
		}
	}
	b.nextID++
	b.clock = b.clock.Add(time.Second)
	m := Message{
		ID:             fmt.Sprintf("%d", b.nextID),
		ConversationID: conversationID,
		SenderID:       d.SenderID,
		CreatedAt:      b.clock,
		Text:           d.Text,
		AttachmentRef:  d.AttachmentRef,
		ClientToken:    d.ClientToken,
	}
	b.conversations[conversationID] = append(msgs, m)
	muted := b.muted
	b.mu.Unlock()

	if !muted {
		b.push(m)
	}
	return m, nil
}

// push delivers m to every open stream of its conversation.
func (b *fakeBackend) push(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		if s.conversationID == m.ConversationID {
			s.ch <- m
		}
	}
}

// dropStreams breaks every open stream, as a transport failure would.
func (b *fakeBackend) dropStreams() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		s.fail(errors.New("connection reset"))
		delete(b.streams, s)
	}
}

func (b *fakeBackend) openStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (b *fakeBackend) counters() (uploads, persists, dials int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads, b.persists, b.dials
}

type fakeStream struct {
	conversationID string
	ch             chan Message
	closed         chan struct{}
	once           sync.Once
	mu             sync.Mutex
	err            error
}

func (s *fakeStream) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-s.ch:
		return m, nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return Message{}, s.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
}

func (s *fakeStream) Close() error {
	s.fail(io.EOF)
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fastBackoff retries almost immediately and deterministically.
func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond, Jitter: func(max time.Duration) time.Duration { return max }}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func waitTimeout() <-chan time.Time { return time.After(3 * time.Second) }
