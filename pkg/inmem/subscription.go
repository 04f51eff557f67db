package inmem

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zpiroux/psadapter/entity"
)

// Subscription is a handle to an in-memory subscription.
type Subscription struct {
	client *Client
	topic  string
	id     string
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Exists(ctx context.Context) (bool, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	_, ok := s.client.subs[s.id]
	return ok, nil
}

func (s *Subscription) Create(ctx context.Context) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()

	if _, ok := s.client.subs[s.id]; ok {
		return nil
	}
	t, ok := s.client.topics[s.topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, s.topic)
	}
	state := &subState{
		topic:       s.topic,
		outstanding: make(map[string]*entity.Message),
		signal:      make(chan struct{}, 1),
	}
	s.client.subs[s.id] = state
	t.subs[s.id] = state
	return nil
}

// Pull blocks until at least one message is available or ctx is done.
func (s *Subscription) Pull(ctx context.Context, maxMessages int) ([]*entity.Message, error) {
	if maxMessages <= 0 {
		return nil, fmt.Errorf("max messages must be positive, got: %d", maxMessages)
	}

	for {
		s.client.mu.Lock()
		state, ok := s.client.subs[s.id]
		if !ok {
			s.client.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, s.id)
		}
		if len(state.queue) > 0 {
			msgs := s.take(state, maxMessages)
			s.client.mu.Unlock()
			return msgs, nil
		}
		s.client.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-state.signal:
		}
	}
}

// take moves up to max messages from the queue to outstanding. Each delivery gets a
// new ack ID, so a stale ack of an earlier delivery is rejected.
func (s *Subscription) take(state *subState, max int) []*entity.Message {
	n := max
	if len(state.queue) < n {
		n = len(state.queue)
	}
	msgs := make([]*entity.Message, 0, n)
	for _, queued := range state.queue[:n] {
		state.deliveries++
		delivered := *queued
		delivered.AckID = s.id + "/" + queued.ID + "/" + strconv.FormatInt(state.deliveries, 10)
		state.outstanding[delivered.AckID] = queued
		msgs = append(msgs, &delivered)
	}
	state.queue = state.queue[n:]
	if len(state.queue) > 0 {
		state.notify()
	}
	return msgs
}

func (s *Subscription) Acknowledge(ctx context.Context, msg *entity.Message) error {
	return s.AcknowledgeBatch(ctx, []*entity.Message{msg})
}

func (s *Subscription) AcknowledgeBatch(ctx context.Context, msgs []*entity.Message) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()

	state, ok := s.client.subs[s.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, s.id)
	}
	for _, msg := range msgs {
		if _, ok := state.outstanding[msg.AckID]; !ok {
			return fmt.Errorf("%w: %s", ErrInvalidAckId, msg.AckID)
		}
		delete(state.outstanding, msg.AckID)
	}
	return nil
}

// ModifyAckDeadline with zero seconds puts the message back first in the queue.
// Other deadlines are accepted but have no effect.
func (s *Subscription) ModifyAckDeadline(ctx context.Context, msg *entity.Message, seconds int) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()

	state, ok := s.client.subs[s.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, s.id)
	}
	queued, ok := state.outstanding[msg.AckID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAckId, msg.AckID)
	}
	if seconds > 0 {
		return nil
	}
	delete(state.outstanding, msg.AckID)
	state.queue = append([]*entity.Message{queued}, state.queue...)
	state.notify()
	return nil
}
