package psadapter

import (
	"github.com/zpiroux/psadapter/entity"
)

const (
	defaultClientIdentifier = "default"
	defaultMaxMessages      = 1000
)

// AckPolicy decides when a consumed message is acknowledged.
type AckPolicy int

const (
	// AckAlways acknowledges every consumed message regardless of handler outcome.
	// Handler errors are notified and suppressed.
	AckAlways AckPolicy = iota

	// AckOnResponse acknowledges a message only if the handler returned true without
	// error. Otherwise the message is negatively acknowledged (ack deadline set to zero)
	// for immediate redelivery.
	AckOnResponse
)

func (p AckPolicy) String() string {
	switch p {
	case AckAlways:
		return "always"
	case AckOnResponse:
		return "onResponse"
	}
	return "invalid"
}

// Config needs to be created with NewConfig() and filled in with config as applicable
// for the intended setup, and provided in the call to psadapter.New().
// All fields can also be changed on the Adapter after creation, with its setters.
type Config struct {

	// ClientIdentifier is used when creating a subscription to a topic.
	// A topic can have multiple subscribers connected. If all subscribers use the same
	// client identifier, the messages will load-balance across them. If all subscribers
	// have different client identifiers, the messages will be dispatched to all of them.
	// If empty, "default" is used.
	ClientIdentifier string

	// AutoCreateTopics makes the adapter check if a topic exists, and create it if not,
	// before using it. If false, no existence check is made at all.
	AutoCreateTopics bool

	// AutoCreateSubscriptions is the equivalent of AutoCreateTopics for subscriptions.
	AutoCreateSubscriptions bool

	// BackgroundBatching routes publishes through the backend's buffered background
	// publisher, without waiting for the outcome. Buffered messages are flushed on
	// Adapter.Close().
	BackgroundBatching bool

	// MaxMessages is the max number of messages to pull at a time. Must be positive.
	MaxMessages int

	// AckPolicy is the acknowledgement policy used by Subscribe().
	AckPolicy AckPolicy

	// BatchAck makes the consume loop acknowledge all messages of a pulled page with a
	// single call after the page is processed, instead of one call per message.
	BatchAck bool

	// Schemas maps channel names to JSON schemas (draft-04 to draft-07). Payloads published
	// to a channel with a schema are validated before being sent.
	Schemas map[string][]byte

	// If set to true native logging will be used (debug, info, warn, and error logs).
	// If set to false (default) no standard logging will be done, but the same type of
	// information will be provided on NotifyChan, if set.
	Log bool

	// NotifyChan receives operational events, such as handler errors. Sends are
	// non-blocking, so a slow reader misses events rather than stalling the adapter.
	NotifyChan entity.NotifyChan
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		AutoCreateTopics:        true,
		AutoCreateSubscriptions: true,
		MaxMessages:             defaultMaxMessages,
		AckPolicy:               AckAlways,
	}
}
