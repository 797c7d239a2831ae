package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataPartitionKey is the message metadata key used as the Kafka partition key.
const MetadataPartitionKey = "partition_key"

// PubSub is the transport used for usage events.
type PubSub interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}
