package xkafka

import (
	"context"
	"fmt"
	"reflect"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/zpiroux/psadapter/entity"
)

type Topic struct {
	client *Client
	id     string
}

func (t *Topic) ID() string {
	return t.id
}

func (t *Topic) Exists(ctx context.Context) (bool, error) {
	return t.client.topicExists(t.id)
}

// Create creates the topic with the configured number of partitions and replication
// factor. A topic that already exists is not an error.
func (t *Topic) Create(ctx context.Context) error {
	spec := kafka.TopicSpecification{
		Topic:             t.id,
		NumPartitions:     t.client.config.NumPartitions,
		ReplicationFactor: t.client.config.ReplicationFactor,
	}

	res, err := t.client.ac.CreateTopics(ctx, []kafka.TopicSpecification{spec})
	if err != nil {
		if err.Error() == kafka.ErrTopicAlreadyExists.String() {
			log.Infof(t.lgprfx() + "topic already exists")
			return nil
		}
		log.Errorf(t.lgprfx()+"could not create topic with spec: %+v, err: %v", spec, err)
		return err
	}

	for _, r := range res {
		switch r.Error.Code() {
		case kafka.ErrNoError:
		case kafka.ErrTopicAlreadyExists:
			log.Infof(t.lgprfx() + "topic already exists")
		default:
			return fmt.Errorf("could not create topic %s, err: %v", r.Topic, r.Error)
		}
	}
	log.Infof(t.lgprfx()+"topic created: %+v", res)
	return nil
}

// Publish returns the message ID on the format "<partition>:<offset>" when the message
// has been delivered.
func (t *Topic) Publish(ctx context.Context, data []byte) (string, error) {
	ids, err := t.PublishBatch(ctx, [][]byte{data})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch enqueues all messages on the producer and waits for all delivery reports.
func (t *Topic) PublishBatch(ctx context.Context, data [][]byte) ([]string, error) {
	deliveryChan := make(chan kafka.Event, len(data))
	for i, d := range data {
		if err := t.client.producer.Produce(t.message(d, i), deliveryChan); err != nil {
			return nil, fmt.Errorf("kafka producer Produce() failed, topic: %s, err: %v", t.id, err)
		}
	}

	ids := make([]string, len(data))
	var firstErr error
	for range data {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e := <-deliveryChan:
			switch event := e.(type) {
			case *kafka.Message:
				if event.TopicPartition.Error != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("publish to %s failed with err: %v", t.id, event.TopicPartition.Error)
					}
					continue
				}
				if i, ok := event.Opaque.(int); ok && i < len(ids) {
					ids[i] = messageID(event.TopicPartition)
				}
			case kafka.Error:
				if firstErr == nil {
					firstErr = fmt.Errorf("kafka error in producer, code: %v, event: %v", event.Code(), event)
				}
			default:
				// Unknown if the publish succeeded, so treat it as an error
				if firstErr == nil {
					firstErr = fmt.Errorf("unexpected Kafka event from producer delivery report: %v", event)
				}
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return ids, nil
}

func (t *Topic) BatchPublisher() entity.BatchPublisher {
	return &batchPublisher{topic: t}
}

func (t *Topic) Subscription(id string) entity.Subscription {
	return &Subscription{client: t.client, topic: t.id, id: id}
}

func (t *Topic) message(data []byte, index int) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t.id, Partition: kafka.PartitionAny},
		Value:          data,
		Opaque:         index,
	}
}

func (t *Topic) lgprfx() string {
	return "[xkafka.topic:" + t.id + "] "
}

// batchPublisher enqueues messages on the producer without waiting. The delivery reports
// are handled by the client's delivery report handler.
type batchPublisher struct {
	topic *Topic
}

func (b *batchPublisher) Publish(ctx context.Context, data []byte) {
	if err := b.topic.client.producer.Produce(b.topic.message(data, 0), nil); err != nil {
		log.Errorf(b.topic.lgprfx()+"background publish failed, err: %v", err)
	}
}

func (b *batchPublisher) Flush() {
	if unflushed := b.topic.client.producer.Flush(b.topic.client.config.FlushTimeoutMs); unflushed > 0 {
		log.Warnf(b.topic.lgprfx()+"%d messages still not delivered after flush", unflushed)
	}
}

func messageID(tp kafka.TopicPartition) string {
	return fmt.Sprintf("%d:%d", tp.Partition, int64(tp.Offset))
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
