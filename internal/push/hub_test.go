package push

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/vovakirdan/jobchat/internal/proto"
)

func startHub(t *testing.T, buffer int) (*Hub, context.CancelFunc) {
	t.Helper()

	hub := NewHub(buffer, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestHubDeliversToTopicSubscribersOnly(t *testing.T) {
	hub, _ := startHub(t, 8)
	ctx := context.Background()

	alice, err := hub.Subscribe(ctx, "job-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bob, _ := hub.Subscribe(ctx, "job-1")
	other, _ := hub.Subscribe(ctx, "job-2")

	if err := hub.Publish(ctx, "job-1", msg("m1", "job-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, s := range []*Subscriber{alice, bob} {
		if got := mustMessage(t, s); got.ID != "m1" {
			t.Fatalf("unexpected message %+v", got)
		}
	}
	mustBeQuiet(t, other)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub, _ := startHub(t, 8)
	ctx := context.Background()

	s, _ := hub.Subscribe(ctx, "job-1")
	hub.Unsubscribe(s)
	mustClose(t, s)
	if s.Evicted() {
		t.Fatal("unsubscribe is not an eviction")
	}

	// second unsubscribe is harmless
	hub.Unsubscribe(s)
	if err := hub.Publish(ctx, "job-1", msg("m1", "job-1")); err != nil {
		t.Fatalf("publish to empty topic: %v", err)
	}
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	hub, _ := startHub(t, 2)
	ctx := context.Background()

	slow, _ := hub.Subscribe(ctx, "job-1")
	fast, _ := hub.Subscribe(ctx, "job-1")

	for i := range 3 {
		_ = hub.Publish(ctx, "job-1", msg(fmt.Sprint(i), "job-1"))
		mustMessage(t, fast)
	}

	// The slow subscriber keeps what it buffered, then sees the channel closed.
	for range 2 {
		mustMessage(t, slow)
	}
	mustClose(t, slow)
	if !slow.Evicted() {
		t.Fatal("slow subscriber should be flagged as evicted")
	}

	_ = hub.Publish(ctx, "job-1", msg("after", "job-1"))
	if got := mustMessage(t, fast); got.ID != "after" {
		t.Fatalf("fast subscriber lost messages: %+v", got)
	}
}

func TestHubStopClosesSubscribers(t *testing.T) {
	hub, cancel := startHub(t, 8)

	s, _ := hub.Subscribe(context.Background(), "job-1")
	cancel()
	mustClose(t, s)

	<-hub.done
	if _, err := hub.Subscribe(context.Background(), "job-1"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := hub.Publish(context.Background(), "job-1", msg("x", "job-1")); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRelayPayloadRejectsGarbage(t *testing.T) {
	data, err := encodeRelay(msg("m1", "job-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRelay(string(data))
	if err != nil || got.ID != "m1" || got.JobID != "job-1" {
		t.Fatalf("decode: %+v %v", got, err)
	}
	for _, in := range []string{"", "{", `{"id":""}`} {
		if _, err := decodeRelay(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestRedisRelay(t *testing.T) {
	url := os.Getenv("JOBCHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBCHAT_TEST_REDIS_URL not set")
	}

	hub, _ := startHub(t, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	relay, err := NewRedis(ctx, url, hub, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer relay.Close()

	ready := make(chan struct{})
	go func() { _ = relay.Run(ctx, ready) }()
	<-ready

	s, err := relay.Subscribe(ctx, "job-relay")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := relay.Publish(ctx, "job-relay", msg("r1", "job-relay")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := mustMessage(t, s); got.ID != "r1" {
		t.Fatalf("unexpected relayed message %+v", got)
	}
}

func msg(id, job string) proto.Message {
	return proto.Message{ID: id, JobID: job, SenderID: "u1", Text: "hello", CreatedAt: time.Now()}
}
