package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

func TestBus_DeliversInOrderAndJoinsErrors(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var order []string
	bus.Subscribe(domain.TopicReviewChanged, "first", func(_ context.Context, ev domain.Event) error {
		order = append(order, "first:"+ev.Movie())
		return nil
	})
	bus.Subscribe(domain.TopicReviewChanged, "second", func(_ context.Context, _ domain.Event) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	bus.Subscribe(domain.TopicReviewChanged, "third", func(_ context.Context, _ domain.Event) error {
		order = append(order, "third")
		return nil
	})
	bus.Subscribe(domain.TopicWatchlistChanged, "other", func(_ context.Context, _ domain.Event) error {
		t.Fatalf("watchlist handler must not see review events")
		return nil
	})

	err := bus.Publish(context.Background(), domain.ReviewChanged{MovieID: "m1"})
	if err == nil || !strings.Contains(err.Error(), "second: boom") {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if strings.Join(order, ",") != "first:m1,second,third" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if err := bus.Publish(context.Background(), domain.WatchlistChanged{MovieID: "m"}); err != nil {
		t.Fatalf("publish with no subscribers: %v", err)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, ev := range []domain.Event{
		domain.ReviewChanged{MovieID: "m", UserID: "u", ReviewID: "r", Op: domain.OpUpdated},
		domain.WatchlistChanged{MovieID: "m2", UserID: "u2", Op: domain.OpCreated},
	} {
		b, err := Encode(ev)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, err := Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if back != ev {
			t.Fatalf("round trip mismatch: %#v vs %#v", back, ev)
		}
	}
	if _, err := Decode([]byte(`{"topic":"nope","payload":{}}`)); err == nil {
		t.Fatalf("expected error for unknown topic")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func startQueue(t *testing.T, bus *Bus, maxRetries int) *RetryQueue {
	t.Helper()
	q, err := NewRetryQueue(RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CloseTimeout:    time.Second,
	}, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRetryQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = q.Close()
		<-done
	})
	select {
	case <-q.Running():
	case <-time.After(5 * time.Second):
		t.Fatalf("router did not start")
	}
	return q
}

func TestRetryQueue_ReplaysUntilHandlerSucceeds(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var calls atomic.Int32
	succeeded := make(chan domain.Event, 1)
	bus.Subscribe(domain.TopicReviewChanged, "flaky", func(_ context.Context, ev domain.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		succeeded <- ev
		return nil
	})
	q := startQueue(t, bus, 5)

	want := domain.ReviewChanged{MovieID: "m1", UserID: "u1", ReviewID: "r1", Op: domain.OpCreated}
	if err := q.Enqueue(context.Background(), want); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case got := <-succeeded:
		if got != want {
			t.Fatalf("replayed %#v; want %#v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("event was not replayed to success (calls=%d)", calls.Load())
	}
}

func TestRetryQueue_DropsAfterExhaustion(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var mu sync.Mutex
	calls := map[string]int{}
	good := make(chan struct{}, 1)
	exhausted := make(chan struct{}, 1)
	bus.Subscribe(domain.TopicWatchlistChanged, "broken", func(_ context.Context, ev domain.Event) error {
		mu.Lock()
		calls[ev.Movie()]++
		n := calls[ev.Movie()]
		mu.Unlock()
		if ev.Movie() != "bad" {
			good <- struct{}{}
			return nil
		}
		if n == 3 {
			exhausted <- struct{}{}
		}
		return errors.New("permanent")
	})
	q := startQueue(t, bus, 2)

	_ = q.Enqueue(context.Background(), domain.WatchlistChanged{MovieID: "bad"})
	_ = q.Enqueue(context.Background(), domain.WatchlistChanged{MovieID: "good"})

	// messages are handled concurrently, so "good" may finish while "bad"
	// is still backing off
	select {
	case <-good:
	case <-time.After(5 * time.Second):
		t.Fatalf("queue stalled behind a permanently failing event")
	}
	select {
	case <-exhausted:
	case <-time.After(5 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("bad event attempts = %d; want 3", calls["bad"])
	}

	// One attempt plus two retries, then dropped: no fourth delivery.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls["bad"] != 3 || calls["good"] != 1 {
		t.Fatalf("attempts = %v; want bad=3 good=1", calls)
	}
}
