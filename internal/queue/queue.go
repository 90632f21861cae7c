// Package queue is the thin client for the work-queue backend. It sends
// messages onto named durable queues, consumes them with ack/nack semantics,
// and bridges fanout exchanges to in-process handlers.
package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/mattmiller85/keepers-server/internal/logging"
	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	transportpkg "github.com/mattmiller85/keepers-server/internal/transport"
)

// Queuer moves protocol messages on and off the broker. Stateless aside from
// its transport connections; it never retries failed operations.
type Queuer struct {
	transport transportpkg.Transport
	log       logging.Logger
}

// New creates a Queuer on top of an already-built transport.
func New(tr transportpkg.Transport, log logging.Logger) *Queuer {
	return &Queuer{transport: tr, log: log.With(logging.Fields{"component": "queuer"})}
}

// EventHandler receives inbound broadcast events as (exchange, message) pairs.
type EventHandler func(fromExchange string, msg msgpkg.Message)

// WorkFunc processes one queued item. Returning an error nacks the item back
// to the queue for redelivery.
type WorkFunc func(ctx context.Context, msg msgpkg.Message) error

// Enqueue serializes the message and sends it to the named durable queue.
func (q *Queuer) Enqueue(ctx context.Context, msg msgpkg.Message, queueName string) error {
	if queueName == "" {
		return fmt.Errorf("enqueue: queue name is required")
	}

	wm, err := newWatermillMessage(msg)
	if err != nil {
		return err
	}
	wm.SetContext(ctx)

	if err := q.transport.Queue.Publisher.Publish(queueName, wm); err != nil {
		return fmt.Errorf("enqueue to %s: %w", queueName, err)
	}
	return nil
}

// Broadcast publishes the message on the named fanout exchange so every
// active listener receives it.
func (q *Queuer) Broadcast(ctx context.Context, msg msgpkg.Message, exchangeName string) error {
	if exchangeName == "" {
		return fmt.Errorf("broadcast: exchange name is required")
	}

	wm, err := newWatermillMessage(msg)
	if err != nil {
		return err
	}
	wm.SetContext(ctx)

	if err := q.transport.Fanout.Publisher.Publish(exchangeName, wm); err != nil {
		return fmt.Errorf("broadcast to %s: %w", exchangeName, err)
	}
	return nil
}

// ListenToExchange subscribes to the named fanout exchange and pushes every
// decodable event into fn until ctx is cancelled. Events are acknowledged
// transport-side regardless of what fn does with them; payloads that fail to
// decode are dropped with a log line.
func (q *Queuer) ListenToExchange(ctx context.Context, exchangeName string, fn EventHandler) error {
	events, err := q.transport.Fanout.Subscriber.Subscribe(ctx, exchangeName)
	if err != nil {
		return fmt.Errorf("subscribe to exchange %s: %w", exchangeName, err)
	}

	go func() {
		for wm := range events {
			decoded, err := msgpkg.Decode(wm.Payload)
			wm.Ack()
			if err != nil {
				q.log.Error("dropping undecodable exchange event", err, logging.Fields{
					"exchange":     exchangeName,
					"message_uuid": wm.UUID,
				})
				continue
			}
			fn(exchangeName, decoded)
		}
	}()

	return nil
}

// StartWorking consumes the named queue until ctx is cancelled. Items fn
// rejects are nacked for redelivery; undecodable items are acked away so they
// cannot wedge the queue.
func (q *Queuer) StartWorking(ctx context.Context, queueName string, fn WorkFunc) error {
	items, err := q.transport.Queue.Subscriber.Subscribe(ctx, queueName)
	if err != nil {
		return fmt.Errorf("subscribe to queue %s: %w", queueName, err)
	}

	go func() {
		for wm := range items {
			decoded, err := msgpkg.Decode(wm.Payload)
			if err != nil {
				q.log.Error("dropping undecodable queue item", err, logging.Fields{
					"queue":        queueName,
					"message_uuid": wm.UUID,
				})
				wm.Ack()
				continue
			}

			if err := fn(wm.Context(), decoded); err != nil {
				q.log.Error("work item failed, nacking", err, logging.Fields{
					"queue":        queueName,
					"message_uuid": wm.UUID,
				})
				wm.Nack()
				continue
			}
			wm.Ack()
		}
	}()

	return nil
}

func newWatermillMessage(msg msgpkg.Message) (*message.Message, error) {
	payload, err := msgpkg.Encode(msg)
	if err != nil {
		return nil, err
	}

	uuid := msg.Identity()
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	return message.NewMessage(uuid, payload), nil
}
