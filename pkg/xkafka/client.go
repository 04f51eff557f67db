// Package xkafka implements the entity interfaces on Kafka, using confluent-kafka-go.
//
// Topics map to Kafka topics and subscriptions to consumer groups, with the subscription
// ID as group ID. Since Kafka tracks consumption with committed offsets per partition,
// acknowledgement commits the offset after the message, and a nack (ModifyAckDeadline
// with zero seconds) rewinds the partition to the message, redelivering it and the
// messages after it. Kafka has no ack deadlines, so other deadlines are ignored.
package xkafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"github.com/teltech/logger"
	"github.com/zpiroux/psadapter/entity"
)

var log *logger.Log

func init() {
	log = logger.New()
}

var ErrClientClosed = errors.New("kafka client is closed")

// Client implements entity.Client on Kafka. A single producer is shared by all topics,
// while a consumer is created per subscription.
type Client struct {
	config   Config
	factory  Factory
	id       string
	producer Producer
	ac       AdminClient

	mu        sync.Mutex
	consumers map[string]*groupConsumer
	closed    bool

	shutdownDeliveryReportHandler context.CancelFunc
	drhDone                       chan struct{}
}

// NewClient creates the producer and admin client. If factory is nil, the
// confluent-kafka-go implementations are used.
func NewClient(config Config, factory Factory) (*Client, error) {
	if isNil(factory) {
		factory = DefaultFactory{}
	}

	c := &Client{
		config:    config,
		factory:   factory,
		id:        "psadapter-" + uuid.NewString(),
		consumers: make(map[string]*groupConsumer),
	}

	var err error
	c.producer, err = factory.NewProducer(config.producerConfigMap(c.id))
	if err != nil {
		return nil, fmt.Errorf(c.lgprfx()+"failed to create producer: %v", err)
	}

	c.ac, err = factory.NewAdminClientFromProducer(c.producer)
	if err != nil {
		c.producer.Close()
		return nil, fmt.Errorf(c.lgprfx()+"couldn't create admin client, err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.shutdownDeliveryReportHandler = cancel
	c.drhDone = make(chan struct{})
	go c.deliveryReportHandler(ctx)

	log.Infof(c.lgprfx()+"kafka client created with config: %s", config)
	return c, nil
}

func (c *Client) Topic(id string) entity.Topic {
	return &Topic{client: c, id: id}
}

// Close flushes the producer and closes the producer and all consumers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	log.Infof(c.lgprfx() + "shutdown initiated")

	if unflushed := c.producer.Flush(c.config.FlushTimeoutMs); unflushed > 0 {
		log.Errorf(c.lgprfx()+"%d messages did not get flushed during shutdown, check for potential message loss", unflushed)
	}
	c.shutdownDeliveryReportHandler()
	<-c.drhDone
	c.producer.Close()

	var err error
	for id, gc := range c.consumers {
		if e := gc.close(); e != nil {
			log.Errorf(c.lgprfx()+"closing consumer for %s failed, err: %v", id, e)
			err = e
		}
	}
	c.consumers = make(map[string]*groupConsumer)
	log.Infof(c.lgprfx() + "shutdown completed")
	return err
}

func (c *Client) topicExists(id string) (bool, error) {
	md, err := c.ac.GetMetadata(nil, true, c.config.MetadataTimeoutMs)
	if err != nil {
		return false, err
	}
	return topicExists(id, md.Topics), nil
}

// consumer returns the group consumer for the subscription, creating it if needed.
func (c *Client) consumer(subscription, topic string) (*groupConsumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if gc, ok := c.consumers[subscription]; ok {
		return gc, nil
	}

	consumer, err := c.factory.NewConsumer(c.config.consumerConfigMap(c.id, subscription))
	if err != nil {
		return nil, fmt.Errorf(c.lgprfx()+"failed to create consumer for %s, err: %v", subscription, err)
	}
	if err = consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf(c.lgprfx()+"failed to subscribe to topic %s, err: %v", topic, err)
	}

	gc := newGroupConsumer(consumer, topic, c.config)
	c.consumers[subscription] = gc
	log.Infof(c.lgprfx()+"consumer group %s joined on topic %s", subscription, topic)
	return gc, nil
}

func (c *Client) hasConsumer(subscription string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.consumers[subscription]
	return ok
}

// deliveryReportHandler logs the outcome of background publishes. Synchronous publishes
// use their own delivery channels.
func (c *Client) deliveryReportHandler(ctx context.Context) {
	defer close(c.drhDone)
	for {
		select {
		case <-ctx.Done():
			log.Infof(c.lgprfx() + "[DRH] ctx closed, shutting down")
			return

		case e := <-c.producer.Events():
			switch event := e.(type) {
			case *kafka.Message:
				if event.TopicPartition.Error != nil {
					log.Errorf(c.lgprfx()+"[DRH] background publish failed with err: %v", event.TopicPartition.Error)
				}
			case kafka.Error:
				log.Errorf(c.lgprfx()+"[DRH] error: %v, fatal: %v", event, event.IsFatal())
			default:
				log.Debugf(c.lgprfx()+"[DRH] Ignored event: %s", event)
			}
		}
	}
}

func (c *Client) lgprfx() string {
	return "[xkafka.client:" + c.id + "] "
}
