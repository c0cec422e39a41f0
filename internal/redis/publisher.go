package redis

import (
	"context"
	"fmt"

	"hr-realtime/internal/events"

	"github.com/redis/go-redis/v9"
)

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// PublishEnvelope encodes env and publishes it on channel.
func (p *Publisher) PublishEnvelope(ctx context.Context, channel string, env events.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event, err)
	}
	return p.Publish(ctx, channel, data)
}
