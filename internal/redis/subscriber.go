package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe blocks delivering messages to handler until ctx ends, which is
// not reported as an error. Channels containing '*' are subscribed as
// patterns.
func (s *Subscriber) Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error {
	var exact, patterns []string
	for _, ch := range channels {
		if strings.Contains(ch, "*") {
			patterns = append(patterns, ch)
		} else {
			exact = append(exact, ch)
		}
	}

	sub := s.client.Subscribe(ctx, exact...)
	defer sub.Close()
	if len(patterns) > 0 {
		if err := sub.PSubscribe(ctx, patterns...); err != nil {
			return err
		}
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			return err
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
