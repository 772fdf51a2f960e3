package chat

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	msgs   []Message
	errs   []error
	lives  []bool
	closed atomic.Bool
	late   atomic.Int32
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(m Message) {
			if r.closed.Load() {
				r.late.Add(1)
			}
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			if r.closed.Load() {
				r.late.Add(1)
			}
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnLive: func(reconnected bool) {
			r.mu.Lock()
			r.lives = append(r.lives, reconnected)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]Message, []error, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...), append([]error(nil), r.errs...), append([]bool(nil), r.lives...)
}

func TestSubscriptionDeliversInArrivalOrder(t *testing.T) {
	b := newFakeBackend("job")
	rec := &recorder{}
	sub := Subscribe(b, "job", rec.handlers(), WithBackoff(fastBackoff()))
	defer sub.Close()

	waitFor(t, "live", func() bool { return sub.State() == StateLive })

	b.push(msgAt("2", 101))
	b.push(msgAt("1", 100))

	waitFor(t, "two messages", func() bool {
		msgs, _, _ := rec.snapshot()
		return len(msgs) == 2
	})
	msgs, _, lives := rec.snapshot()
	if msgs[0].ID != "2" || msgs[1].ID != "1" {
		t.Fatalf("subscription must not reorder: %v", ids(msgs))
	}
	if len(lives) != 1 || lives[0] {
		t.Fatalf("expected a single first-time live callback, got %v", lives)
	}
}

func TestSubscriptionReconnectsAfterDrop(t *testing.T) {
	b := newFakeBackend("job")
	rec := &recorder{}
	sub := Subscribe(b, "job", rec.handlers(), WithBackoff(fastBackoff()))
	defer sub.Close()

	waitFor(t, "live", func() bool { return sub.State() == StateLive })
	b.dropStreams()

	waitFor(t, "reconnect", func() bool {
		_, _, lives := rec.snapshot()
		return len(lives) == 2
	})
	_, errs, lives := rec.snapshot()
	if !lives[1] {
		t.Fatal("second live callback should report a reconnect")
	}
	var lost *ConnectionLost
	if len(errs) == 0 || !errors.As(errs[0], &lost) {
		t.Fatalf("expected ConnectionLost, got %v", errs)
	}

	b.push(msgAt("1", 100))
	waitFor(t, "message after reconnect", func() bool {
		msgs, _, _ := rec.snapshot()
		return len(msgs) == 1
	})
}

func TestSubscriptionRetriesFailedDials(t *testing.T) {
	b := newFakeBackend("job")
	b.dialErr = errors.New("connection refused")
	rec := &recorder{}
	sub := Subscribe(b, "job", rec.handlers(), WithBackoff(fastBackoff()))
	defer sub.Close()

	waitFor(t, "several failed dials", func() bool {
		_, _, dials := b.counters()
		return dials >= 3
	})
	if sub.State() != StateReconnecting {
		t.Fatalf("expected reconnecting, got %v", sub.State())
	}

	b.mu.Lock()
	b.dialErr = nil
	b.mu.Unlock()
	waitFor(t, "live", func() bool { return sub.State() == StateLive })
}

func TestSubscriptionNotFoundIsFatal(t *testing.T) {
	b := newFakeBackend()
	rec := &recorder{}
	sub := Subscribe(b, "missing", rec.handlers(), WithBackoff(fastBackoff()))

	select {
	case <-sub.Done():
	case <-waitTimeout():
		t.Fatal("subscription should stop on not found")
	}
	if sub.State() != StateClosed {
		t.Fatalf("expected closed, got %v", sub.State())
	}
	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errs)
	}
	_, _, dials := b.counters()
	if dials != 1 {
		t.Fatalf("not found must not be retried, dials=%d", dials)
	}
	_ = sub.Close()
}

func TestSubscriptionNoCallbacksAfterClose(t *testing.T) {
	b := newFakeBackend("job")
	rec := &recorder{}
	sub := Subscribe(b, "job", rec.handlers(), WithBackoff(fastBackoff()))

	waitFor(t, "live", func() bool { return sub.State() == StateLive })

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec.closed.Store(true)

	b.push(msgAt("1", 100))
	b.dropStreams()

	if sub.State() != StateClosed {
		t.Fatalf("expected closed, got %v", sub.State())
	}
	if b.openStreams() != 0 {
		t.Fatal("close must release the stream")
	}
	if rec.late.Load() != 0 {
		t.Fatal("callback fired after Close returned")
	}
	// second close is harmless
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
