package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/psadapter/entity"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	pb "google.golang.org/genproto/googleapis/pubsub/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const testProject = "test-project"

func newTestClient(t *testing.T) (*Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	config := NewConfig(testProject)
	config.PublishDelayThreshold = 5 * time.Millisecond
	config.EmptyPullDelay = 10 * time.Millisecond
	client, err := NewClient(context.Background(), config, option.WithGRPCConn(conn))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		conn.Close()
		srv.Close()
	})
	return client, srv
}

func TestTopicAndSubscription(t *testing.T) {

	ctx := context.Background()
	client, srv := newTestClient(t)

	topic := client.Topic("coolTopic")
	assert.Equal(t, "coolTopic", topic.ID())

	exists, err := topic.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, topic.Create(ctx))
	assert.NoError(t, topic.Create(ctx), "existing topic should not be an error")

	exists, err = topic.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	sub := topic.Subscription("default.coolTopic")
	exists, err = sub.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, sub.Create(ctx))
	assert.NoError(t, sub.Create(ctx))
	exists, err = sub.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	err = client.Topic("nonExisting").Subscription("foo").Create(ctx)
	assert.Error(t, err)

	id, err := topic.Publish(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ids, err := topic.PublishBatch(ctx, [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, srv.Messages(), 3)

	msgs := pullN(t, sub, 3)
	assert.ElementsMatch(t, []string{"hello", "a", "b"}, dataOf(msgs))
	for _, msg := range msgs {
		assert.NotEmpty(t, msg.AckID)
		assert.False(t, msg.PublishTime.IsZero())
	}
	require.NoError(t, sub.AcknowledgeBatch(ctx, msgs))

	// Nothing more to get after ack
	ctxTimeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = sub.Pull(ctxTimeout, 10)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNack(t *testing.T) {

	ctx := context.Background()
	client, _ := newTestClient(t)

	topic := client.Topic("coolTopic")
	require.NoError(t, topic.Create(ctx))
	sub := topic.Subscription("default.coolTopic")
	require.NoError(t, sub.Create(ctx))

	id, err := topic.Publish(ctx, []byte("retry me"))
	require.NoError(t, err)

	msgs := pullN(t, sub, 1)
	assert.Equal(t, id, msgs[0].ID)
	require.NoError(t, sub.ModifyAckDeadline(ctx, msgs[0], 0))

	redelivered := pullN(t, sub, 1)
	assert.Equal(t, id, redelivered[0].ID)
	assert.Equal(t, "retry me", string(redelivered[0].Data))
	assert.NoError(t, sub.Acknowledge(ctx, redelivered[0]))
}

func TestBatchPublisher(t *testing.T) {

	ctx := context.Background()
	client, srv := newTestClient(t)

	topic := client.Topic("coolTopic")
	require.NoError(t, topic.Create(ctx))
	sub := topic.Subscription("default.coolTopic")
	require.NoError(t, sub.Create(ctx))

	bp := topic.BatchPublisher()
	for i := 0; i < 5; i++ {
		bp.Publish(ctx, []byte(fmt.Sprintf("msg%d", i)))
	}
	bp.Flush()
	assert.Len(t, srv.Messages(), 5)

	msgs := pullN(t, sub, 5)
	assert.ElementsMatch(t, []string{"msg0", "msg1", "msg2", "msg3", "msg4"}, dataOf(msgs))
}

func TestPublishBatchKeepsOrder(t *testing.T) {

	ctx := context.Background()
	client, srv := newTestClient(t)

	topic := client.Topic("coolTopic")
	require.NoError(t, topic.Create(ctx))

	data := make([][]byte, 2500)
	expected := make([]string, len(data))
	for i := range data {
		expected[i] = strconv.Itoa(i)
		data[i] = []byte(expected[i])
	}

	ids, err := topic.PublishBatch(ctx, data)
	require.NoError(t, err)
	require.Len(t, ids, len(data))

	// The server assigns increasing IDs in the order messages are received
	msgs := srv.Messages()
	require.Len(t, msgs, len(data))
	sort.Slice(msgs, func(i, j int) bool {
		return serverSeq(t, msgs[i].ID) < serverSeq(t, msgs[j].ID)
	})
	received := make([]string, len(msgs))
	for i, m := range msgs {
		received[i] = string(m.Data)
		assert.Equal(t, m.ID, ids[i])
	}
	assert.Equal(t, expected, received)
}

func TestPublishBatchChunking(t *testing.T) {

	mock := &MockPublisherClient{}
	client := NewClientFromClients(NewConfig(testProject), nil, mock, nil)
	topic := client.Topic("coolTopic")

	data := make([][]byte, 2500)
	for i := range data {
		data[i] = []byte(strconv.Itoa(i))
	}
	ids, err := topic.PublishBatch(context.Background(), data)
	require.NoError(t, err)
	assert.Len(t, ids, 2500)
	assert.Equal(t, "id0", ids[0])
	assert.Equal(t, "id2499", ids[2499])

	require.Len(t, mock.requests, 3)
	assert.Len(t, mock.requests[0].Messages, 1000)
	assert.Len(t, mock.requests[1].Messages, 1000)
	assert.Len(t, mock.requests[2].Messages, 500)
	assert.Equal(t, "projects/test-project/topics/coolTopic", mock.requests[0].Topic)
	assert.Equal(t, "1000", string(mock.requests[1].Messages[0].Data))

	// Large messages are split on size
	mock.requests = nil
	big := make([]byte, 4*1000*1000)
	_, err = topic.PublishBatch(context.Background(), [][]byte{big, big, big, []byte("small")})
	require.NoError(t, err)
	require.Len(t, mock.requests, 2)
	assert.Len(t, mock.requests[0].Messages, 2)
	assert.Len(t, mock.requests[1].Messages, 2)

	// IDs of the requests sent before the failing one are returned
	mock.requests = nil
	mock.failOnRequest = 2
	ids, err = topic.PublishBatch(context.Background(), data)
	assert.Error(t, err)
	assert.Len(t, ids, 1000)
}

func TestClosedClient(t *testing.T) {

	ctx := context.Background()
	client, _ := newTestClient(t)

	topic := client.Topic("coolTopic")
	require.NoError(t, topic.Create(ctx))
	_, err := topic.Publish(ctx, []byte("before close"))
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	_, err = topic.Publish(ctx, []byte("after close"))
	assert.True(t, errors.Is(err, ErrClientClosed))
	_, err = topic.PublishBatch(ctx, [][]byte{[]byte("after close")})
	assert.True(t, errors.Is(err, ErrClientClosed))

	bp := topic.BatchPublisher()
	bp.Publish(ctx, []byte("after close"))
	bp.Flush()
	assert.Empty(t, client.topics)
}

func TestPullClampsMaxMessages(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("int is too small to exceed max int32")
	}

	mock := &MockSubscriberClient{
		received: []*pb.ReceivedMessage{{AckId: "ack1", Message: &pb.PubsubMessage{MessageId: "1"}}},
	}
	client := NewClientFromClients(NewConfig(testProject), nil, nil, mock)
	sub := client.Topic("coolTopic").Subscription("default.coolTopic")

	maxMessages := math.MaxInt32
	maxMessages++
	_, err := sub.Pull(context.Background(), maxMessages)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), mock.lastPull.MaxMessages)
}

func TestPullRetriesTransientErrors(t *testing.T) {

	mock := &MockSubscriberClient{
		pullErrs: []error{
			status.Error(codes.Unavailable, "try again"),
			status.Error(codes.DeadlineExceeded, "timeout"),
		},
		received: []*pb.ReceivedMessage{{
			AckId:   "ack1",
			Message: &pb.PubsubMessage{MessageId: "1", Data: []byte("foo")},
		}},
	}
	config := NewConfig(testProject)
	config.EmptyPullDelay = time.Millisecond
	client := NewClientFromClients(config, nil, nil, mock)
	sub := client.Topic("coolTopic").Subscription("default.coolTopic")

	msgs, err := sub.Pull(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "ack1", msgs[0].AckID)
	assert.Equal(t, 3, mock.pullCalls)
	assert.Equal(t, "projects/test-project/subscriptions/default.coolTopic", mock.lastPull.Subscription)
	assert.Equal(t, int32(10), mock.lastPull.MaxMessages)

	mock.pullErrs = []error{status.Error(codes.NotFound, "no such subscription")}
	_, err = sub.Pull(context.Background(), 10)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = sub.Pull(context.Background(), 0)
	assert.Error(t, err)
}

func TestAcknowledgeBatchChunking(t *testing.T) {

	mock := &MockSubscriberClient{}
	client := NewClientFromClients(NewConfig(testProject), nil, nil, mock)
	sub := client.Topic("coolTopic").Subscription("default.coolTopic")

	msgs := make([]*entity.Message, 2500)
	for i := range msgs {
		msgs[i] = &entity.Message{AckID: fmt.Sprintf("ack%d", i)}
	}
	require.NoError(t, sub.AcknowledgeBatch(context.Background(), msgs))
	require.Len(t, mock.acks, 3)
	assert.Len(t, mock.acks[0], 1000)
	assert.Len(t, mock.acks[1], 1000)
	assert.Len(t, mock.acks[2], 500)
	assert.Equal(t, "ack2499", mock.acks[2][499])

	require.NoError(t, sub.ModifyAckDeadline(context.Background(), msgs[0], 0))
	assert.Equal(t, int32(0), mock.lastModAck.AckDeadlineSeconds)
	assert.Equal(t, []string{"ack0"}, mock.lastModAck.AckIds)
}

func TestAlreadyExists(t *testing.T) {
	assert.True(t, alreadyExists(&googleapi.Error{Code: ALREADY_EXISTS}))
	assert.False(t, alreadyExists(&googleapi.Error{Code: 404}))
	assert.True(t, alreadyExists(status.Error(codes.AlreadyExists, "topic exists")))
	assert.True(t, alreadyExists(errors.New("rpc error: code = AlreadyExists desc = Topic already exists")))
	assert.False(t, alreadyExists(status.Error(codes.PermissionDenied, "denied")))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), NewConfig(""))
	assert.Error(t, err)
}

// pullN pulls until n messages are received, since the service can split them over
// several responses.
func pullN(t *testing.T, sub entity.Subscription, n int) []*entity.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var msgs []*entity.Message
	for len(msgs) < n {
		page, err := sub.Pull(ctx, n-len(msgs))
		require.NoError(t, err)
		msgs = append(msgs, page...)
	}
	return msgs
}

func dataOf(msgs []*entity.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Data)
	}
	return out
}

func serverSeq(t *testing.T, id string) int {
	t.Helper()
	n, err := strconv.Atoi(strings.TrimPrefix(id, "m"))
	require.NoError(t, err)
	return n
}

type MockPublisherClient struct {
	requests      []*pb.PublishRequest
	failOnRequest int
	next          int
}

func (m *MockPublisherClient) Publish(ctx context.Context, req *pb.PublishRequest, opts ...gax.CallOption) (*pb.PublishResponse, error) {
	m.requests = append(m.requests, req)
	if len(m.requests) == m.failOnRequest {
		return nil, status.Error(codes.InvalidArgument, "request too large")
	}
	resp := &pb.PublishResponse{}
	for range req.Messages {
		resp.MessageIds = append(resp.MessageIds, fmt.Sprintf("id%d", m.next))
		m.next++
	}
	return resp, nil
}

func (m *MockPublisherClient) Close() error {
	return nil
}

type MockSubscriberClient struct {
	pullErrs   []error
	received   []*pb.ReceivedMessage
	pullCalls  int
	lastPull   *pb.PullRequest
	acks       [][]string
	lastModAck *pb.ModifyAckDeadlineRequest
}

func (m *MockSubscriberClient) Pull(ctx context.Context, req *pb.PullRequest, opts ...gax.CallOption) (*pb.PullResponse, error) {
	m.pullCalls++
	m.lastPull = req
	if len(m.pullErrs) > 0 {
		err := m.pullErrs[0]
		m.pullErrs = m.pullErrs[1:]
		return nil, err
	}
	return &pb.PullResponse{ReceivedMessages: m.received}, nil
}

func (m *MockSubscriberClient) Acknowledge(ctx context.Context, req *pb.AcknowledgeRequest, opts ...gax.CallOption) error {
	m.acks = append(m.acks, req.AckIds)
	return nil
}

func (m *MockSubscriberClient) ModifyAckDeadline(ctx context.Context, req *pb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error {
	m.lastModAck = req
	return nil
}

func (m *MockSubscriberClient) Close() error {
	return nil
}
