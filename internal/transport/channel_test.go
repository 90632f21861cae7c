package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChannelSharesOnePubSub(t *testing.T) {
	tr, err := BuildChannel(context.Background(), &testConfig{transport: ChannelName}, watermill.NopLogger{})
	require.NoError(t, err)

	require.NotNil(t, tr.Queue.Publisher)
	require.NotNil(t, tr.Queue.Subscriber)
	assert.Equal(t, tr.Queue.Publisher, tr.Fanout.Publisher)
	assert.Equal(t, tr.Queue.Subscriber, tr.Fanout.Subscriber)
}

func TestChannelDeliversPublishedMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := BuildChannel(ctx, &testConfig{transport: ChannelName}, watermill.NopLogger{})
	require.NoError(t, err)

	messages, err := tr.Fanout.Subscriber.Subscribe(ctx, "document_indexed")
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"kind":"indexing_finished"}`))
	require.NoError(t, tr.Fanout.Publisher.Publish("document_indexed", msg))

	select {
	case received := <-messages:
		assert.Equal(t, msg.Payload, received.Payload)
		received.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
