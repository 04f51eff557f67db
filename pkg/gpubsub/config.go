package gpubsub

import (
	"time"

	"cloud.google.com/go/pubsub"
)

const (
	defaultEmptyPullDelay = 100 * time.Millisecond
	maxAckIDsPerRequest   = 1000
	maxMessagesPerPublish = 1000
	maxBytesPerPublish    = 9 * 1000 * 1000
)

// Config for the GCP Pub/Sub client. Create with NewConfig().
type Config struct {
	ProjectID string

	// AckDeadline is used when creating subscriptions. Zero means service default (10s).
	AckDeadline time.Duration

	// Batching thresholds for the topic publishers. Messages are sent when any of the
	// thresholds is reached.
	PublishDelayThreshold time.Duration
	PublishCountThreshold int
	PublishByteThreshold  int

	// EmptyPullDelay is the time to wait before pulling again after an empty response.
	EmptyPullDelay time.Duration
}

func NewConfig(projectID string) Config {
	return Config{
		ProjectID:             projectID,
		PublishDelayThreshold: pubsub.DefaultPublishSettings.DelayThreshold,
		PublishCountThreshold: pubsub.DefaultPublishSettings.CountThreshold,
		PublishByteThreshold:  pubsub.DefaultPublishSettings.ByteThreshold,
		EmptyPullDelay:        defaultEmptyPullDelay,
	}
}
