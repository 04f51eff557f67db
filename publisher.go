package psadapter

import (
	"context"

	"github.com/zpiroux/psadapter/entity"
)

// Publisher submits serialized messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic entity.Topic, data []byte) error
	PublishBatch(ctx context.Context, topic entity.Topic, data [][]byte) error
}

// ImmediatePublisher publishes synchronously, returning when the service has accepted
// the message(s).
type ImmediatePublisher struct{}

func (ImmediatePublisher) Publish(ctx context.Context, topic entity.Topic, data []byte) error {
	_, err := topic.Publish(ctx, data)
	return err
}

func (ImmediatePublisher) PublishBatch(ctx context.Context, topic entity.Topic, data [][]byte) error {
	_, err := topic.PublishBatch(ctx, data)
	return err
}

// BufferedPublisher enqueues messages to the topic's background publisher and returns
// directly. Publish errors are handled (logged) by the backend, not returned.
type BufferedPublisher struct{}

func (BufferedPublisher) Publish(ctx context.Context, topic entity.Topic, data []byte) error {
	topic.BatchPublisher().Publish(ctx, data)
	return nil
}

func (BufferedPublisher) PublishBatch(ctx context.Context, topic entity.Topic, data [][]byte) error {
	bp := topic.BatchPublisher()
	for _, d := range data {
		bp.Publish(ctx, d)
	}
	return nil
}
