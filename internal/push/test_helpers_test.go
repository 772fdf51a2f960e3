package push

import (
	"testing"
	"time"

	"github.com/vovakirdan/jobchat/internal/proto"
)

func mustMessage(t *testing.T, s *Subscriber) proto.Message {
	t.Helper()

	select {
	case m, ok := <-s.Events:
		if !ok {
			t.Fatalf("subscriber %s closed while a message was expected", s.ID)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for subscriber %s", s.ID)
	}
	return proto.Message{}
}

func mustClose(t *testing.T, s *Subscriber) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscriber %s was not closed", s.ID)
		}
	}
}

func mustBeQuiet(t *testing.T, s *Subscriber) {
	t.Helper()

	select {
	case m := <-s.Events:
		t.Fatalf("unexpected message %+v for subscriber %s", m, s.ID)
	case <-time.After(50 * time.Millisecond):
	}
}
