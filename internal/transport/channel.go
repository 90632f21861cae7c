package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ChannelName is the config value selecting the in-memory channel transport,
// used for tests and local development.
const ChannelName = "channel"

// ChannelFactory allows overriding the channel creation for testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register(ChannelName, BuildChannel)
}

// BuildChannel creates an in-memory transport. One gochannel serves both the
// queue and fanout roles; gochannel already delivers each message to every
// subscriber, which matches fanout semantics and is close enough to queue
// semantics for single-consumer tests.
func BuildChannel(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := ChannelFactory(gochannel.Config{}, logger)
	pair := PubSub{Publisher: pub, Subscriber: sub}
	return Transport{Queue: pair, Fanout: pair}, nil
}
