package gpubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/zpiroux/psadapter/entity"
	pb "google.golang.org/genproto/googleapis/pubsub/v1"
)

type Topic struct {
	client *Client
	id     string
}

func (t *Topic) ID() string {
	return t.id
}

func (t *Topic) Exists(ctx context.Context) (bool, error) {
	return t.client.ps.Topic(t.id).Exists(ctx)
}

// Create creates the topic. A topic created concurrently by someone else is not an error.
func (t *Topic) Create(ctx context.Context) error {
	_, err := t.client.ps.CreateTopic(ctx, t.id)
	if err != nil {
		if alreadyExists(err) {
			log.Infof(t.lgprfx()+"topic already exists (err: %v)", err)
			return nil
		}
		return err
	}
	log.Infof(t.lgprfx() + "topic created")
	return nil
}

// Publish blocks until a server-generated ID or an error is returned for the message.
func (t *Topic) Publish(ctx context.Context, data []byte) (string, error) {
	topic, err := t.client.topic(t.id)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data})
	return result.Get(ctx)
}

// PublishBatch sends the messages in order with explicit publish requests, not through
// the topic's batching publisher. A batch exceeding the service's request limits is split into consecutive requests, and the IDs
// of the messages published before a failing request are returned with the error.
func (t *Topic) PublishBatch(ctx context.Context, data [][]byte) ([]string, error) {
	if t.client.isClosed() {
		return nil, ErrClientClosed
	}

	ids := make([]string, 0, len(data))
	for _, chunk := range chunkMessages(data) {
		resp, err := t.client.pub.Publish(ctx, &pb.PublishRequest{
			Topic:    t.client.topicName(t.id),
			Messages: chunk,
		})
		if err != nil {
			return ids, err
		}
		if len(resp.MessageIds) != len(chunk) {
			return ids, fmt.Errorf("publish to %s returned %d message IDs for %d messages", t.id, len(resp.MessageIds), len(chunk))
		}
		ids = append(ids, resp.MessageIds...)
	}
	return ids, nil
}

func (t *Topic) BatchPublisher() entity.BatchPublisher {
	topic, err := t.client.topic(t.id)
	if err != nil {
		log.Errorf(t.lgprfx()+"no background publisher available, err: %v", err)
	}
	return &batchPublisher{topic: topic, id: t.id}
}

func (t *Topic) Subscription(id string) entity.Subscription {
	return &Subscription{client: t.client, topic: t.id, id: id}
}

func (t *Topic) lgprfx() string {
	return "[gpubsub.topic:" + t.id + "] "
}

// batchPublisher hands messages to the background publisher without waiting. Failed
// publishes are logged.
type batchPublisher struct {
	topic *pubsub.Topic
	id    string
}

func (b *batchPublisher) Publish(ctx context.Context, data []byte) {
	if b.topic == nil {
		log.Errorf("[gpubsub.batchPublisher:%s] background publish failed: %v", b.id, ErrClientClosed)
		return
	}
	result := b.topic.Publish(ctx, &pubsub.Message{Data: data})
	go func() {
		// The caller's ctx might be gone before the batch is sent
		if _, err := result.Get(context.Background()); err != nil {
			log.Errorf("[gpubsub.batchPublisher:%s] background publish failed: %v", b.id, err)
		}
	}()
}

func (b *batchPublisher) Flush() {
	if b.topic != nil {
		b.topic.Flush()
	}
}

// chunkMessages splits the messages into consecutive publish requests within the
// service's count and size limits.
func chunkMessages(data [][]byte) [][]*pb.PubsubMessage {
	var (
		chunks [][]*pb.PubsubMessage
		chunk  []*pb.PubsubMessage
		size   int
	)
	for _, d := range data {
		if len(chunk) == maxMessagesPerPublish || (len(chunk) > 0 && size+len(d) > maxBytesPerPublish) {
			chunks = append(chunks, chunk)
			chunk, size = nil, 0
		}
		chunk = append(chunk, &pb.PubsubMessage{Data: d})
		size += len(d)
	}
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}
	return chunks
}
