package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "kedaipos:changes"

// RedisPublisher forwards changes to every terminal listening on channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, changes ...Change) error {
	for _, change := range changes {
		payload, err := json.Marshal(change)
		if err != nil {
			return err
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s change: %w", change.Collection, err)
		}
	}
	return nil
}

// Relay feeds changes received on a Redis channel into a local publisher,
// usually the process Broker.
type Relay struct {
	client  redis.UniversalClient
	channel string
	target  Publisher
	log     zerolog.Logger
}

func NewRelay(client redis.UniversalClient, channel string, target Publisher, logger zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, target: target, log: logger.With().Str("component", "relay").Logger()}
}

// Run blocks until ctx is cancelled. It returns an error only when the
// subscription could not be established.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
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
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed change")
				continue
			}
			if err := r.target.Publish(ctx, change); err != nil {
				r.log.Warn().Err(err).Str("collection", change.Collection).Msg("relay publish failed")
			}
		}
	}
}
