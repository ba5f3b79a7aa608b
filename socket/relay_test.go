package socket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, addr string, hub *Hub) *RedisRelay {
	t.Helper()
	relay := NewRedisRelayWithClient(redis.NewClient(&redis.Options{Addr: addr}), "commits", hub)
	hub.SetRelay(relay)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, relay.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		relay.Close()
	})
	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return relay
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	hubA := NewHub(8)
	hubB := NewHub(8)
	startRelay(t, mr.Addr(), hubA)
	startRelay(t, mr.Addr(), hubB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hubA.Run(ctx)
	go hubB.Run(ctx)

	local := hubA.Subscribe("d1", "carol")
	remote := hubB.Subscribe("d1", "bob")
	author := hubB.Subscribe("d1", "alice")

	hubA.Publish(event("alice", 1))
	hubA.Publish(event("dave", 2))

	assert.Equal(t, int64(1), next(t, remote).Revision)
	assert.Equal(t, int64(2), next(t, remote).Revision)
	// The author's own commit is suppressed on every instance.
	assert.Equal(t, int64(2), next(t, author).Revision)

	// Each event reaches a local subscriber once; the relay ignores its own
	// messages.
	assert.Equal(t, int64(1), next(t, local).Revision)
	assert.Equal(t, int64(2), next(t, local).Revision)
	select {
	case ev := <-local.Events():
		t.Fatalf("unexpected duplicate delivery of revision %d", ev.Revision)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayIgnoresMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	hub := NewHub(8)
	startRelay(t, mr.Addr(), hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	sub := hub.Subscribe("d1", "bob")

	mr.Publish("commits", "not json")
	other := NewRedisRelayWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "commits", NewHub(1))
	defer other.Close()
	require.NoError(t, other.Publish(context.Background(), event("alice", 1)))

	assert.Equal(t, "alice", next(t, sub).ActorID)
}

func TestNewRedisRelayRejectsBadURL(t *testing.T) {
	_, err := NewRedisRelay("not-a-url", "commits", NewHub(1))
	assert.Error(t, err)
}
