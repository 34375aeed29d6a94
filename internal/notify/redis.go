package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a per-merchant channel so that every
// API instance can forward them to its own websocket clients.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Name() string { return "redis" }

func ChannelFor(merchantID string) string {
	return "payops:events:" + merchantID
}

func (p *RedisPublisher) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event encoding failed: %w", err)
	}
	return p.rdb.Publish(ctx, ChannelFor(ev.MerchantID), payload).Err()
}

// Forward relays published events to the local hub until ctx is done.
func Forward(ctx context.Context, rdb redis.UniversalClient, hub *Hub) error {
	sub := rdb.PSubscribe(ctx, ChannelFor("*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("event subscription failed: %w", err)
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
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				hub.logger.Warn("dropping undecodable event", "channel", msg.Channel, "error", err)
				continue
			}
			if err := hub.Send(ctx, ev); err != nil {
				deliveryFailures.WithLabelValues(hub.Name()).Inc()
			}
		}
	}
}
