package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tokenvault/internal/domain"
	pkgerrors "tokenvault/pkg/errors"
)

// Channel is the pub/sub channel carrying one vault's events.
func Channel(vault domain.Address) string {
	return fmt.Sprintf("vault:%s:events", vault)
}

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher sends each event as JSON on the vault's channel.
type RedisPublisher struct {
	client RedisClient
}

func NewRedisPublisher(client RedisClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to encode event")
		}
		if err := p.client.Publish(ctx, Channel(e.Vault), payload).Err(); err != nil {
			return pkgerrors.Wrapf(err, "failed to publish %s event", e.Kind)
		}
	}
	return nil
}

// Subscribe relays a vault's Redis channel into hub until ctx ends. It lets
// every vaultd replica serve websocket clients for events committed
// elsewhere.
func Subscribe(ctx context.Context, client *redis.Client, vault domain.Address, hub *Hub) error {
	sub := client.Subscribe(ctx, Channel(vault))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return pkgerrors.Wrap(err, "failed to subscribe")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			hub.Broadcast(e)
		}
	}
}
