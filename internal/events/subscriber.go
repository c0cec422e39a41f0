package events

import "context"

// Subscriber delivers pub/sub payloads to handler until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}
