// Package gpubsub implements the entity interfaces on GCP Pub/Sub.
//
// Single and background publishing use the batching publisher in cloud.google.com/go/pubsub.
// Batch publishing sends explicit publish requests on the low level publisher client, so
// a batch keeps its order. Consumption uses synchronous pull requests on the low level
// subscriber client, giving the caller full control of acknowledgement.
package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/teltech/logger"
	"github.com/zpiroux/psadapter/entity"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	pb "google.golang.org/genproto/googleapis/pubsub/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const ALREADY_EXISTS = 409 // Defined here due to lack of proper other place in GCP libs

var log *logger.Log

var ErrClientClosed = errors.New("pubsub client is closed")

func init() {
	log = logger.New()
}

// PubsubClient is the part of *pubsub.Client used for topic and subscription admin and
// for publishing.
type PubsubClient interface {
	Topic(id string) *pubsub.Topic
	CreateTopic(ctx context.Context, id string) (*pubsub.Topic, error)
	Subscription(id string) *pubsub.Subscription
	CreateSubscription(ctx context.Context, id string, cfg pubsub.SubscriptionConfig) (*pubsub.Subscription, error)
	Close() error
}

// PublisherClient is the part of the low level publisher client (*vkit.PublisherClient)
// used for ordered batch publishing.
type PublisherClient interface {
	Publish(ctx context.Context, req *pb.PublishRequest, opts ...gax.CallOption) (*pb.PublishResponse, error)
	Close() error
}

// SubscriberClient is the part of the low level subscriber client (*vkit.SubscriberClient)
// used for synchronous pull.
type SubscriberClient interface {
	Pull(ctx context.Context, req *pb.PullRequest, opts ...gax.CallOption) (*pb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pb.AcknowledgeRequest, opts ...gax.CallOption) error
	ModifyAckDeadline(ctx context.Context, req *pb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error
	Close() error
}

// Client implements entity.Client on GCP Pub/Sub.
type Client struct {
	config Config
	ps     PubsubClient
	pub    PublisherClient
	sub    SubscriberClient

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// NewClient connects to Pub/Sub in the configured project. If the env variable
// PUBSUB_EMULATOR_HOST is set, the emulator on that address is used.
func NewClient(ctx context.Context, config Config, opts ...option.ClientOption) (*Client, error) {
	if config.ProjectID == "" {
		return nil, errors.New("GCP project ID must be provided")
	}

	if addr := os.Getenv("PUBSUB_EMULATOR_HOST"); addr != "" {
		opts = append([]option.ClientOption{
			option.WithEndpoint(addr),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithoutAuthentication(),
		}, opts...)
	}

	ps, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create pubsub client, err: %v", err)
	}
	pub, err := vkit.NewPublisherClient(ctx, opts...)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("could not create pubsub publisher client, err: %v", err)
	}
	sub, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		pub.Close()
		ps.Close()
		return nil, fmt.Errorf("could not create pubsub subscriber client, err: %v", err)
	}
	return NewClientFromClients(config, ps, pub, sub), nil
}

// NewClientFromClients creates a Client using already created service clients.
func NewClientFromClients(config Config, ps PubsubClient, pub PublisherClient, sub SubscriberClient) *Client {
	if config.EmptyPullDelay <= 0 {
		config.EmptyPullDelay = defaultEmptyPullDelay
	}
	return &Client{
		config: config,
		ps:     ps,
		pub:    pub,
		sub:    sub,
		topics: make(map[string]*pubsub.Topic),
	}
}

func (c *Client) Topic(id string) entity.Topic {
	return &Topic{client: c, id: id}
}

// Close flushes and stops all topic publishers and closes the service clients.
// Publishing on a closed client fails with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, t := range c.topics {
		t.Stop()
	}
	c.topics = make(map[string]*pubsub.Topic)
	c.mu.Unlock()

	var err error
	for _, closer := range []interface{ Close() error }{c.sub, c.pub, c.ps} {
		if isNil(closer) {
			continue
		}
		// Clients sharing a connection, as with the emulator, fail when closing it again
		if e := closer.Close(); e != nil && err == nil && !strings.Contains(e.Error(), "the client connection is closing") {
			err = e
		}
	}
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// topic returns the shared publisher handle for the topic. A *pubsub.Topic starts
// goroutines on first publish, so handles are reused until Close.
func (c *Client) topic(id string) (*pubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if t, ok := c.topics[id]; ok {
		return t, nil
	}
	t := c.ps.Topic(id)
	t.PublishSettings.DelayThreshold = c.config.PublishDelayThreshold
	t.PublishSettings.CountThreshold = c.config.PublishCountThreshold
	t.PublishSettings.ByteThreshold = c.config.PublishByteThreshold
	c.topics[id] = t
	return t, nil
}

func (c *Client) topicName(id string) string {
	return fmt.Sprintf("projects/%s/topics/%s", c.config.ProjectID, id)
}

func (c *Client) subscriptionName(id string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", c.config.ProjectID, id)
}

// alreadyExists handles the different ways the GCP libs report an existing resource.
func alreadyExists(err error) bool {
	var e *googleapi.Error
	if errors.As(err, &e) {
		return e.Code == ALREADY_EXISTS
	}
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(err.Error(), "AlreadyExists")
}

// retryable tells if a failed pull should just be re-initiated.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return err.Error() == context.DeadlineExceeded.Error()
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
