package client

import (
	"sync"

	"github.com/samber/lo"

	"github.com/vovakirdan/jobchat/internal/proto"
)

// Session holds the signed-in user and the bearer token of a Client.
// Listeners hear about every sign-in and sign-out; a nil user means signed out.
type Session struct {
	mu        sync.RWMutex
	token     string
	user      *proto.User
	nextID    int
	listeners map[int]func(*proto.User)
}

func newSession() *Session {
	return &Session{listeners: make(map[int]func(*proto.User))}
}

// Token returns the bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *Session) User() (proto.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return proto.User{}, false
	}
	return *s.user, true
}

// OnChange registers fn and returns a function that removes it.
func (s *Session) OnChange(fn func(user *proto.User)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) set(token string, user *proto.User) {
	s.mu.Lock()
	s.token = token
	s.user = user
	listeners := lo.Values(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		if user == nil {
			fn(nil)
			continue
		}
		u := *user
		fn(&u)
	}
}

// setToken swaps the token without telling listeners.
func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear signs out.
func (s *Session) Clear() {
	s.set("", nil)
}
