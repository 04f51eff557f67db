package xkafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/zpiroux/psadapter/entity"
)

// Subscription is a consumer group on a topic.
type Subscription struct {
	client *Client
	topic  string
	id     string
}

func (s *Subscription) ID() string {
	return s.id
}

// Exists reports whether this client has joined the consumer group. Kafka consumer
// groups are created implicitly by their first member.
func (s *Subscription) Exists(ctx context.Context) (bool, error) {
	return s.client.hasConsumer(s.id), nil
}

// Create joins the consumer group. The topic must exist.
func (s *Subscription) Create(ctx context.Context) error {
	exists, err := s.client.topicExists(s.topic)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("topic %s does not exist", s.topic)
	}
	_, err = s.client.consumer(s.id, s.topic)
	return err
}

// Pull blocks until at least one message is read or ctx is done, and then reads any
// directly available messages up to maxMessages.
func (s *Subscription) Pull(ctx context.Context, maxMessages int) ([]*entity.Message, error) {
	if maxMessages <= 0 {
		return nil, fmt.Errorf("max messages must be positive, got: %d", maxMessages)
	}
	gc, err := s.client.consumer(s.id, s.topic)
	if err != nil {
		return nil, err
	}
	return gc.pull(ctx, maxMessages)
}

func (s *Subscription) Acknowledge(ctx context.Context, msg *entity.Message) error {
	return s.AcknowledgeBatch(ctx, []*entity.Message{msg})
}

// AcknowledgeBatch commits, per partition, the offset after the highest acknowledged
// message, or the offset of a message rewound to by a nack in the same pull.
func (s *Subscription) AcknowledgeBatch(ctx context.Context, msgs []*entity.Message) error {
	gc, err := s.client.consumer(s.id, s.topic)
	if err != nil {
		return err
	}
	return gc.commit(msgs)
}

// ModifyAckDeadline with zero seconds rewinds the message's partition to the message.
// Other values are ignored since Kafka has no ack deadlines.
func (s *Subscription) ModifyAckDeadline(ctx context.Context, msg *entity.Message, seconds int) error {
	if seconds > 0 {
		return nil
	}
	gc, err := s.client.consumer(s.id, s.topic)
	if err != nil {
		return err
	}
	return gc.seek(msg)
}

// groupConsumer serializes access to a consumer shared by subscription handles.
type groupConsumer struct {
	mu       sync.Mutex
	consumer Consumer
	topic    string
	config   Config

	// lowest offset per partition rewound to since the last pull
	rewound map[int32]kafka.Offset
}

func newGroupConsumer(consumer Consumer, topic string, config Config) *groupConsumer {
	return &groupConsumer{
		consumer: consumer,
		topic:    topic,
		config:   config,
		rewound:  make(map[int32]kafka.Offset),
	}
}

func (g *groupConsumer) pull(ctx context.Context, maxMessages int) ([]*entity.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rewound = make(map[int32]kafka.Offset)

	var msgs []*entity.Message
	pollTimeout := time.Duration(g.config.PollTimeoutMs) * time.Millisecond

	for len(msgs) < maxMessages {
		if err := ctx.Err(); err != nil {
			if len(msgs) > 0 {
				return msgs, nil
			}
			return nil, err
		}

		timeout := pollTimeout
		if len(msgs) > 0 {
			timeout = time.Millisecond
		}
		m, err := g.consumer.ReadMessage(timeout)
		if err != nil {
			if e, ok := err.(kafka.Error); ok && e.Code() == kafka.ErrTimedOut {
				if len(msgs) > 0 {
					return msgs, nil
				}
				continue
			}
			if len(msgs) > 0 {
				log.Warnf("[xkafka.consumer:%s] read failed after %d messages, err: %v", g.topic, len(msgs), err)
				return msgs, nil
			}
			return nil, err
		}
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

func (g *groupConsumer) commit(msgs []*entity.Message) error {
	offsets := make(map[int32]kafka.Offset)
	for _, msg := range msgs {
		partition, offset, err := parseAckID(msg.AckID)
		if err != nil {
			return err
		}
		if current, ok := offsets[partition]; !ok || offset+1 > current {
			offsets[partition] = offset + 1
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Committing past a rewound message would lose it on restart
	tps := make([]kafka.TopicPartition, 0, len(offsets))
	for partition, offset := range offsets {
		if rewound, ok := g.rewound[partition]; ok && rewound < offset {
			offset = rewound
		}
		tps = append(tps, kafka.TopicPartition{Topic: &g.topic, Partition: partition, Offset: offset})
	}

	_, err := g.consumer.CommitOffsets(tps)
	return err
}

// seek rewinds the partition to the message, unless already rewound to an earlier
// message of the same pull.
func (g *groupConsumer) seek(msg *entity.Message) error {
	partition, offset, err := parseAckID(msg.AckID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.rewound[partition]; ok && current <= offset {
		return nil
	}
	g.rewound[partition] = offset
	return g.consumer.Seek(kafka.TopicPartition{Topic: &g.topic, Partition: partition, Offset: offset}, g.config.SeekTimeoutMs)
}

func (g *groupConsumer) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumer.Close()
}

func toMessage(m *kafka.Message) *entity.Message {
	msg := &entity.Message{
		ID:          messageID(m.TopicPartition),
		AckID:       messageID(m.TopicPartition),
		Data:        m.Value,
		PublishTime: m.Timestamp,
	}
	if len(m.Headers) > 0 {
		msg.Attributes = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			msg.Attributes[h.Key] = string(h.Value)
		}
	}
	return msg
}

func parseAckID(ackID string) (int32, kafka.Offset, error) {
	parts := strings.Split(ackID, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid ack ID: %s", ackID)
	}
	partition, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid partition in ack ID %s: %v", ackID, err)
	}
	offset, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid offset in ack ID %s: %v", ackID, err)
	}
	return int32(partition), kafka.Offset(offset), nil
}
