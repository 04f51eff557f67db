package psadapter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zpiroux/psadapter/entity"
	"github.com/zpiroux/psadapter/pkg/notify"
)

// Handler is called by the consume loop with each received payload. The returned bool
// is the handler's response, used with AckOnResponse to decide between ack and nack.
type Handler func(ctx context.Context, payload Payload) (bool, error)

// handlerResult is the outcome of a single handler invocation, with panics converted
// to errors.
type handlerResult struct {
	response bool
	err      error
}

func (r handlerResult) ack(policy AckPolicy) bool {
	if policy == AckAlways {
		return true
	}
	return r.err == nil && r.response
}

// Subscribe consumes messages from the channel, calling handler synchronously for each
// message, using the adapter's ack policy. It blocks until the unsubscribe sentinel is
// received, ctx is canceled, or a service call fails.
func (a *Adapter) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return a.SubscribeWithPolicy(ctx, channel, handler, a.config.AckPolicy)
}

// SubscribeWithPolicy is as Subscribe but with the provided ack policy instead of the
// adapter's.
func (a *Adapter) SubscribeWithPolicy(ctx context.Context, channel string, handler Handler, policy AckPolicy) error {
	if handler == nil {
		return ErrHandlerNotProvided
	}

	sub, err := a.Subscription(ctx, channel)
	if err != nil {
		return err
	}

	s := &subscriber{
		sub:         sub,
		handler:     handler,
		policy:      policy,
		maxMessages: a.config.MaxMessages,
		batchAck:    a.config.BatchAck,
		notifier:    a.notifier.Subscriber(channel, sub.ID()),
	}
	return s.run(ctx)
}

// subscriber holds the state of a single Subscribe call.
type subscriber struct {
	sub         entity.Subscription
	handler     Handler
	policy      AckPolicy
	maxMessages int
	batchAck    bool
	notifier    *notify.Notifier

	received int64
	acked    int64
	nacked   int64
}

func (s *subscriber) run(ctx context.Context) error {
	s.notifier.Infof("subscribing on %s, ack policy: %s, max messages: %d, batch ack: %v",
		s.sub.ID(), s.policy, s.maxMessages, s.batchAck)

	for {
		msgs, err := s.sub.Pull(ctx, s.maxMessages)
		if err != nil {
			if ctx.Err() != nil {
				s.notifier.Warnf("subscriber terminated (%v), %s", ctx.Err(), s.stats())
				return ctx.Err()
			}
			s.notifier.Errorf("pull from %s failed: %v, %s", s.sub.ID(), err, s.stats())
			return fmt.Errorf("%w, subscription: %s, details: %v", ErrPull, s.sub.ID(), err)
		}

		unsubscribed, err := s.processPage(ctx, msgs)
		if err != nil {
			s.notifier.Errorf("%v, %s", err, s.stats())
			return err
		}
		if unsubscribed {
			s.notifier.Infof("unsubscribe received, %s", s.stats())
			return nil
		}
	}
}

// processPage dispatches a pulled page of messages in delivery order. Dispatch stops at
// the unsubscribe sentinel, which is acknowledged, and the remaining messages of the page
// are nacked for prompt redelivery. Batched acks are sent also when the page fails.
func (s *subscriber) processPage(ctx context.Context, msgs []*entity.Message) (unsubscribed bool, err error) {
	var acks []*entity.Message
	defer func() {
		if ackErr := s.ackBatch(ctx, acks); ackErr != nil {
			if err != nil {
				s.notifier.Errorf("%v", ackErr)
				return
			}
			unsubscribed, err = false, ackErr
		}
	}()

	for i, msg := range msgs {
		s.received++
		payload := Deserialize(msg.Data)

		if payload.IsUnsubscribe() {
			if acks, err = s.ack(ctx, msg, acks); err != nil {
				return false, err
			}
			for _, rest := range msgs[i+1:] {
				if err = s.nack(ctx, rest); err != nil {
					return false, err
				}
			}
			unsubscribed = true
			break
		}

		result := s.dispatch(ctx, payload)
		if result.err != nil {
			s.notifier.MessageFailed(msg, result.err)
		}

		if result.ack(s.policy) {
			acks, err = s.ack(ctx, msg, acks)
		} else {
			err = s.nack(ctx, msg)
		}
		if err != nil {
			return false, err
		}
	}
	return unsubscribed, nil
}

func (s *subscriber) ackBatch(ctx context.Context, acks []*entity.Message) error {
	if len(acks) == 0 {
		return nil
	}
	if err := s.sub.AcknowledgeBatch(ctx, acks); err != nil {
		return fmt.Errorf("%w, batch of %d messages, details: %v", ErrAcknowledge, len(acks), err)
	}
	s.acked += int64(len(acks))
	return nil
}

func (s *subscriber) dispatch(ctx context.Context, payload Payload) (result handlerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = handlerResult{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
		}
	}()
	response, err := s.handler(ctx, payload)
	return handlerResult{response: response, err: err}
}

// ack acknowledges the message directly, or adds it to the page's batch if batch ack
// is enabled.
func (s *subscriber) ack(ctx context.Context, msg *entity.Message, batch []*entity.Message) ([]*entity.Message, error) {
	if s.batchAck {
		return append(batch, msg), nil
	}
	if err := s.sub.Acknowledge(ctx, msg); err != nil {
		return batch, fmt.Errorf("%w, message: %s, details: %v", ErrAcknowledge, msg.ID, err)
	}
	s.acked++
	return batch, nil
}

func (s *subscriber) nack(ctx context.Context, msg *entity.Message) error {
	if err := s.sub.ModifyAckDeadline(ctx, msg, 0); err != nil {
		return fmt.Errorf("%w, nack of message: %s, details: %v", ErrAcknowledge, msg.ID, err)
	}
	s.nacked++
	return nil
}

func (s *subscriber) stats() string {
	return fmt.Sprintf("messages received: %d, acked: %d, nacked: %d", s.received, s.acked, s.nacked)
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
