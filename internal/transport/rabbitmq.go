package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// RabbitMQName is the config value selecting the RabbitMQ transport.
const RabbitMQName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register(RabbitMQName, BuildRabbitMQ)
}

// BuildRabbitMQ creates the RabbitMQ transport: a durable-queue pub/sub pair
// for indexing jobs and a fanout pub/sub pair for completion broadcasts,
// sharing one connection.
func BuildRabbitMQ(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	url := cfg.GetRabbitURL()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return Transport{}, err
	}

	queueConfig := amqp.NewDurableQueueConfig(url)
	fanoutConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix("keepers"))

	queue, err := buildPubSub(queueConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	fanout, err := buildPubSub(fanoutConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}

	return Transport{Queue: queue, Fanout: fanout}, nil
}

func buildPubSub(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (PubSub, error) {
	publisher, err := PublisherFactory(cfg, logger, conn)
	if err != nil {
		return PubSub{}, err
	}

	subscriber, err := SubscriberFactory(cfg, logger, conn)
	if err != nil {
		return PubSub{}, err
	}

	return PubSub{Publisher: publisher, Subscriber: subscriber}, nil
}
