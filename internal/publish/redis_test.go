package publish

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/statecraft/internal/events"
)

func TestMessages(t *testing.T) {
	evs := []events.Event{
		events.Starvation{Day: 4, Stratum: "peasant", Deaths: 2},
		events.Notice{Day: 4, Message: "market day"},
	}
	msgs, err := Messages(4, evs)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Tag != "STARVATION_EVENT" || msgs[0].Day != 4 {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].Line != "market day" || msgs[1].Summary != "market day" {
		t.Errorf("notice = %+v", msgs[1])
	}
}

func TestChannelNames(t *testing.T) {
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer r.Close()
	if got := r.Channel(); got != "statecraft:events" {
		t.Errorf("Channel() = %q", got)
	}
	r2 := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "test")
	defer r2.Close()
	if got := r2.Channel(); got != "test:events" {
		t.Errorf("Channel() = %q", got)
	}
}

// TestRedisRoundTrip runs against a live server named by TEST_REDIS_URL.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedis(ctx, url, "statecraft-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	got := make(chan Message, 1)
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go r.Subscribe(subCtx, func(m Message) { got <- m })
	time.Sleep(100 * time.Millisecond)

	status := map[string]int{"day": 9}
	if err := r.PublishDay(ctx, 9, []events.Event{events.Notice{Day: 9, Message: "hello"}}, status); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-got:
		if m.Line != "hello" || m.Day != 9 {
			t.Errorf("received %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	raw, err := r.Status(ctx)
	if err != nil || string(raw) != `{"day":9}` {
		t.Errorf("status = %s, %v", raw, err)
	}
	recent, err := r.Recent(ctx, 1)
	if err != nil || len(recent) != 1 || recent[0].Line != "hello" {
		t.Errorf("recent = %+v, %v", recent, err)
	}
}
