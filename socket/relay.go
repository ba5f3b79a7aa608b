package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"colladoc/internal/document/model"
	"colladoc/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type relayEnvelope struct {
	Origin string            `json:"origin"`
	Event  model.CommitEvent `json:"event"`
}

// RedisRelay shares commit events between instances over Redis pub/sub.
// Every instance delivers the events of the others to its local hub and
// ignores its own.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	ready   chan struct{}
}

// NewRedisRelay connects to redisURL and checks the connection.
func NewRedisRelay(redisURL, channel string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRelayWithClient(client, channel, hub), nil
}

func NewRedisRelayWithClient(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		ready:   make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, ev model.CommitEvent) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal commit event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish commit event: %w", err)
	}
	return nil
}

// Ready is closed once Run is subscribed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and feeds remote events into the hub until
// ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	logger.Sugar.Infof("Relaying commit events on redis channel %s", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Sugar.Errorf("Error unmarshalling relayed event: %v", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Deliver(env.Event)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
