// Package inmem provides a process local pub/sub backend, implementing the entity
// interfaces with the same semantics as the managed services: messages published to a
// topic are delivered to every subscription existing at publish time, subscribers on the
// same subscription compete for messages, and unacknowledged messages can be redelivered.
//
// Ack deadlines are not enforced, i.e. a pulled message is only redelivered after a
// ModifyAckDeadline with zero seconds.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/psadapter/entity"
)

var log *logger.Log

func init() {
	log = logger.New()
}

var (
	ErrTopicNotFound        = errors.New("topic not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidAckId         = errors.New("unknown ack ID")
)

// Client is the in-memory service and its client at the same time. The zero value is
// not usable, create with NewClient().
type Client struct {
	mu     sync.Mutex
	topics map[string]*topicState
	subs   map[string]*subState
	nextID int64
	closed bool
}

type topicState struct {
	subs map[string]*subState
}

type subState struct {
	topic       string
	queue       []*entity.Message
	outstanding map[string]*entity.Message
	signal      chan struct{}
	deliveries  int64
}

func NewClient() *Client {
	return &Client{
		topics: make(map[string]*topicState),
		subs:   make(map[string]*subState),
	}
}

func (c *Client) Topic(id string) entity.Topic {
	return &Topic{client: c, id: id}
}

// Close makes all further publishes fail. Subscriptions can still be drained.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Backlog returns the number of messages waiting for delivery in a subscription,
// excluding outstanding (pulled but not yet acked) messages.
func (c *Client) Backlog(subscription string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[subscription]; ok {
		return len(s.queue)
	}
	return 0
}

// Outstanding returns the number of pulled but not yet acknowledged messages.
func (c *Client) Outstanding(subscription string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[subscription]; ok {
		return len(s.outstanding)
	}
	return 0
}

func (c *Client) publish(topicID string, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", errors.New("client is closed")
	}
	t, ok := c.topics[topicID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTopicNotFound, topicID)
	}

	c.nextID++
	id := strconv.FormatInt(c.nextID, 10)
	publishTime := time.Now().UTC()

	for _, s := range t.subs {
		msg := &entity.Message{
			ID:          id,
			Data:        append([]byte(nil), data...),
			PublishTime: publishTime,
		}
		s.queue = append(s.queue, msg)
		s.notify()
	}
	return id, nil
}

func (s *subState) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Topic is a handle to an in-memory topic.
type Topic struct {
	client *Client
	id     string
}

func (t *Topic) ID() string {
	return t.id
}

func (t *Topic) Exists(ctx context.Context) (bool, error) {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	_, ok := t.client.topics[t.id]
	return ok, nil
}

func (t *Topic) Create(ctx context.Context) error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	if _, ok := t.client.topics[t.id]; !ok {
		t.client.topics[t.id] = &topicState{subs: make(map[string]*subState)}
	}
	return nil
}

func (t *Topic) Publish(ctx context.Context, data []byte) (string, error) {
	return t.client.publish(t.id, data)
}

func (t *Topic) PublishBatch(ctx context.Context, data [][]byte) ([]string, error) {
	ids := make([]string, 0, len(data))
	for _, d := range data {
		id, err := t.client.publish(t.id, d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BatchPublisher returns a publisher which, since there is no network to batch for,
// publishes directly.
func (t *Topic) BatchPublisher() entity.BatchPublisher {
	return &batchPublisher{topic: t}
}

func (t *Topic) Subscription(id string) entity.Subscription {
	return &Subscription{client: t.client, topic: t.id, id: id}
}

type batchPublisher struct {
	topic *Topic
}

func (b *batchPublisher) Publish(ctx context.Context, data []byte) {
	if _, err := b.topic.client.publish(b.topic.id, data); err != nil {
		log.Errorf("[inmem.batchPublisher:%s] publish failed: %v", b.topic.id, err)
	}
}

func (b *batchPublisher) Flush() {}
