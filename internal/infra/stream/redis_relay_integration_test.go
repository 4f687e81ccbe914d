//go:build integration

package stream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisRelayRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(4, nil)
	relay := NewRedisRelay(client, hub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	scopeID := "relay-" + uuid.NewString()
	sub, err := hub.Subscribe(scopeID, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// PSubscribe is asynchronous; give it a moment before publishing.
	time.Sleep(200 * time.Millisecond)
	relay.Publish(ctx, event(scopeID, "member.create", 1))

	select {
	case got := <-sub.C:
		if got.Action != "member.create" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event was not relayed")
	}
}
