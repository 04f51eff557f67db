package xkafka

import (
	"context"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, timeoutMs int) error
	Close() error
}

type AdminClient interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// Factory creates the Kafka client instances, making it possible to use other
// implementations than the confluent-kafka-go ones, e.g. in tests.
type Factory interface {
	NewProducer(conf *kafka.ConfigMap) (Producer, error)
	NewConsumer(conf *kafka.ConfigMap) (Consumer, error)
	NewAdminClientFromProducer(p Producer) (AdminClient, error)
}

type DefaultFactory struct{}

func (d DefaultFactory) NewProducer(conf *kafka.ConfigMap) (Producer, error) {
	return kafka.NewProducer(conf)
}

func (d DefaultFactory) NewConsumer(conf *kafka.ConfigMap) (Consumer, error) {
	return kafka.NewConsumer(conf)
}

func (d DefaultFactory) NewAdminClientFromProducer(p Producer) (AdminClient, error) {
	return kafka.NewAdminClientFromProducer(p.(*kafka.Producer))
}

func topicExists(topicToFind string, existingTopics map[string]kafka.TopicMetadata) bool {
	for _, topic := range existingTopics {
		if topic.Topic == topicToFind {
			return true
		}
	}
	return false
}
