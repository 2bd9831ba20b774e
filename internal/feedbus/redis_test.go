package feedbus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/erauner12/fieldsync/internal/httpapi"
	"github.com/redis/go-redis/v9"
)

type recorder struct {
	mu     sync.Mutex
	events []httpapi.ChangeEvent
}

func (r *recorder) Publish(ev httpapi.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []httpapi.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]httpapi.ChangeEvent(nil), r.events...)
}

func TestPublishFallsBackToLocal(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	local := &recorder{}
	New(client, "", local).Publish(httpapi.ChangeEvent{Table: "actors", ID: "a-1"})

	got := local.snapshot()
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Errorf("local events = %+v, want the one event", got)
	}
}

func TestRelayRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping integration tests")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	local := &recorder{}
	relay := New(client, "fieldsync:test:"+t.Name(), local)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// The subscription starts asynchronously; publish until it is live
	deadline := time.Now().Add(3 * time.Second)
	for len(local.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never came back through redis")
		}
		relay.Publish(httpapi.ChangeEvent{Table: "villages", ID: "v-1"})
		time.Sleep(50 * time.Millisecond)
	}
	if ev := local.snapshot()[0]; ev.Table != "villages" || ev.ID != "v-1" {
		t.Errorf("relayed event = %+v", ev)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run() did not stop after cancel")
	}
}
