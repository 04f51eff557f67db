// Package entity holds the contract between the adapter and the pub/sub service backends,
// together with types shared by both sides.
//
// A backend (e.g. pkg/gpubsub, pkg/xkafka or pkg/inmem) implements Client, Topic,
// Subscription and BatchPublisher. The adapter only ever talks to these interfaces.
package entity

import (
	"context"
	"fmt"
	"time"
)

// Client provides handles to topics in the external pub/sub service.
type Client interface {

	// Topic returns a handle to the topic with the provided ID. The topic is not required
	// to exist, and no network call is made.
	Topic(id string) Topic

	// Close flushes any buffered publishes and releases the resources of the client.
	Close() error
}

// Topic is a handle to a single topic. A channel maps 1:1 to a topic.
type Topic interface {
	ID() string

	// Exists reports whether the topic exists in the service.
	Exists(ctx context.Context) (bool, error)

	// Create creates the topic. An already existing topic is not regarded as an error.
	Create(ctx context.Context) error

	// Publish publishes a single message and blocks until the service has accepted it,
	// returning the service generated message ID.
	Publish(ctx context.Context, data []byte) (string, error)

	// PublishBatch publishes all messages in the provided order as a single request,
	// returning the message IDs in the same order.
	PublishBatch(ctx context.Context, data [][]byte) ([]string, error)

	// BatchPublisher returns the background publisher of this topic.
	BatchPublisher() BatchPublisher

	// Subscription returns a handle to a subscription with the provided ID, attached
	// to this topic. The subscription is not required to exist.
	Subscription(id string) Subscription
}

// BatchPublisher buffers published messages and sends them asynchronously. The caller
// does not wait for, or observe, the outcome of each publish.
type BatchPublisher interface {
	Publish(ctx context.Context, data []byte)

	// Flush blocks until all buffered messages have been sent.
	Flush()
}

// Subscription is a handle to a single subscription.
type Subscription interface {
	ID() string
	Exists(ctx context.Context) (bool, error)

	// Create creates the subscription on its topic. An already existing subscription is
	// not regarded as an error.
	Create(ctx context.Context) error

	// Pull blocks until at least one message is available, or ctx is done, and returns
	// at most maxMessages messages in delivery order.
	Pull(ctx context.Context, maxMessages int) ([]*Message, error)

	Acknowledge(ctx context.Context, msg *Message) error
	AcknowledgeBatch(ctx context.Context, msgs []*Message) error

	// ModifyAckDeadline sets a new acknowledgement deadline for the message. A deadline
	// of zero seconds is a negative acknowledgement, making the message available for
	// immediate redelivery.
	ModifyAckDeadline(ctx context.Context, msg *Message, seconds int) error
}

// Message is a message envelope as delivered by a Subscription. It only lives for the
// duration of one pull iteration.
type Message struct {
	ID          string
	AckID       string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
}

func (m Message) String() string {
	return fmt.Sprintf("id: %s, ackId: %s, publishTime: %v, data: %s", m.ID, m.AckID, m.PublishTime, string(m.Data))
}
