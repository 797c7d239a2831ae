package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/pubsub"
)

// memoryPubSub is an in-process PubSub for local runs and tests. Messages are not
// persisted and are delivered to subscribers of the same process only.
type memoryPubSub struct {
	ch *gochannel.GoChannel
}

func NewPubSub(log *logger.Logger) pubsub.PubSub {
	return &memoryPubSub{
		ch: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 1024},
			pubsub.NewWatermillLogger(log),
		),
	}
}

func (p *memoryPubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	return p.ch.Publish(topic, msg)
}

func (p *memoryPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.ch.Subscribe(ctx, topic)
}

func (p *memoryPubSub) Close() error {
	return p.ch.Close()
}
