package chat

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelayGrowsToCap(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = func(max time.Duration) time.Duration { return max }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %v want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffFullJitterStaysInRange(t *testing.T) {
	b := DefaultBackoff()
	for attempt := range 8 {
		limit := b.Base << attempt
		if limit > b.Cap {
			limit = b.Cap
		}
		for range 100 {
			d := b.Delay(attempt)
			if d < 0 || d >= limit {
				t.Fatalf("attempt %d: delay %v outside [0, %v)", attempt, d, limit)
			}
		}
	}
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	b := Backoff{Base: time.Hour, Cap: time.Hour, Jitter: func(max time.Duration) time.Duration { return max }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Wait(ctx, 0); err == nil {
		t.Fatal("expected context error")
	}
}
