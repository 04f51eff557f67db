package gpubsub

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/zpiroux/psadapter/entity"
	pb "google.golang.org/genproto/googleapis/pubsub/v1"
)

type Subscription struct {
	client *Client
	topic  string
	id     string
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Exists(ctx context.Context) (bool, error) {
	return s.client.ps.Subscription(s.id).Exists(ctx)
}

func (s *Subscription) Create(ctx context.Context) error {
	_, err := s.client.ps.CreateSubscription(ctx, s.id, pubsub.SubscriptionConfig{
		Topic:       s.client.ps.Topic(s.topic),
		AckDeadline: s.client.config.AckDeadline,
	})
	if err != nil {
		if alreadyExists(err) {
			log.Infof(s.lgprfx()+"subscription already exists (err: %v)", err)
			return nil
		}
		return err
	}
	log.Infof(s.lgprfx()+"subscription created on topic %s", s.topic)
	return nil
}

// Pull blocks until at least one message is received or ctx is done. Transient errors
// from the service, e.g. deadline exceeded, are logged and the pull is re-initiated.
func (s *Subscription) Pull(ctx context.Context, maxMessages int) ([]*entity.Message, error) {
	if maxMessages <= 0 {
		return nil, fmt.Errorf("max messages must be positive, got: %d", maxMessages)
	}

	// The service caps the response size far below this anyway
	if maxMessages > math.MaxInt32 {
		maxMessages = math.MaxInt32
	}
	req := &pb.PullRequest{
		Subscription: s.client.subscriptionName(s.id),
		MaxMessages:  int32(maxMessages),
	}

	for {
		resp, err := s.client.sub.Pull(ctx, req)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			if !retryable(err) {
				return nil, err
			}
			log.Warnf(s.lgprfx()+"pull failed, err: '%v'. Re-initiating operation.", err)
		} else if len(resp.ReceivedMessages) > 0 {
			return toMessages(resp.ReceivedMessages), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.client.config.EmptyPullDelay):
		}
	}
}

func (s *Subscription) Acknowledge(ctx context.Context, msg *entity.Message) error {
	return s.AcknowledgeBatch(ctx, []*entity.Message{msg})
}

func (s *Subscription) AcknowledgeBatch(ctx context.Context, msgs []*entity.Message) error {
	for _, ackIDs := range chunkAckIDs(msgs) {
		err := s.client.sub.Acknowledge(ctx, &pb.AcknowledgeRequest{
			Subscription: s.client.subscriptionName(s.id),
			AckIds:       ackIDs,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscription) ModifyAckDeadline(ctx context.Context, msg *entity.Message, seconds int) error {
	return s.client.sub.ModifyAckDeadline(ctx, &pb.ModifyAckDeadlineRequest{
		Subscription:       s.client.subscriptionName(s.id),
		AckIds:             []string{msg.AckID},
		AckDeadlineSeconds: int32(seconds),
	})
}

func (s *Subscription) lgprfx() string {
	return "[gpubsub.subscription:" + s.id + "] "
}

func toMessages(received []*pb.ReceivedMessage) []*entity.Message {
	msgs := make([]*entity.Message, 0, len(received))
	for _, rm := range received {
		msg := &entity.Message{AckID: rm.AckId}
		if m := rm.Message; m != nil {
			msg.ID = m.MessageId
			msg.Data = m.Data
			msg.Attributes = m.Attributes
			if m.PublishTime != nil {
				msg.PublishTime = m.PublishTime.AsTime()
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// chunkAckIDs splits the ack IDs to stay within the service's request size limits.
func chunkAckIDs(msgs []*entity.Message) [][]string {
	var chunks [][]string
	for start := 0; start < len(msgs); start += maxAckIDsPerRequest {
		end := start + maxAckIDsPerRequest
		if end > len(msgs) {
			end = len(msgs)
		}
		ackIDs := make([]string, 0, end-start)
		for _, msg := range msgs[start:end] {
			ackIDs = append(ackIDs, msg.AckID)
		}
		chunks = append(chunks, ackIDs)
	}
	return chunks
}
