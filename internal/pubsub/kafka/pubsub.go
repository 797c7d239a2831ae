package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	wkafka "github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/flexprice/usageledger/internal/config"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/kafka"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/pubsub"
)

type kafkaPubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *logger.Logger
}

// PartitionKey returns the partition key carried in the message metadata. Messages
// without one fall back to their uuid, which spreads them across partitions.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(pubsub.MetadataPartitionKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// NewPubSubFromConfig creates a Kafka backed PubSub. The subscriber joins
// consumerGroup; the publisher partitions by the partition_key metadata.
func NewPubSubFromConfig(cfg *config.Configuration, log *logger.Logger, consumerGroup string) (pubsub.PubSub, error) {
	saramaConfig := kafka.GetSaramaConfig(cfg)
	wmLogger := pubsub.NewWatermillLogger(log)
	marshaler := wkafka.NewWithPartitioningMarshaler(PartitionKey)

	publisher, err := wkafka.NewPublisher(
		wkafka.PublisherConfig{
			Brokers:               cfg.Kafka.Brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaConfig,
		},
		wmLogger,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create kafka publisher").
			Mark(ierr.ErrSystem)
	}

	subscriber, err := wkafka.NewSubscriber(
		wkafka.SubscriberConfig{
			Brokers:               cfg.Kafka.Brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: saramaConfig,
			ConsumerGroup:         consumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, ierr.WithError(err).
			WithHint("Failed to create kafka subscriber").
			Mark(ierr.ErrSystem)
	}

	return &kafkaPubSub{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     log,
	}, nil
}

func (p *kafkaPubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	return p.publisher.Publish(topic, msg)
}

func (p *kafkaPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.subscriber.Subscribe(ctx, topic)
}

func (p *kafkaPubSub) Close() error {
	pubErr := p.publisher.Close()
	subErr := p.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
