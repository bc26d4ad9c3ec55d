package messaging

import (
	"context"
)

// Broker is the publish side of the event fan-out. Delivery to
// downstream consumers happens outside this process.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}
