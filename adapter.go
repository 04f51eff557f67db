// Package psadapter lets application code publish and consume messages on named channels,
// delegating storage, transport and delivery to an external pub/sub service.
//
// Each channel maps to a topic in the service. Topics and subscriptions are created
// lazily when first used (configurable), and consumption is done with a blocking pull
// loop which runs until the reserved payload "unsubscribe" is received on the channel.
//
// The service is accessed through the interfaces in package entity. Implementations are
// provided for GCP Pub/Sub (pkg/gpubsub), Kafka (pkg/xkafka) and in-memory (pkg/inmem).
package psadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/teltech/logger"
	"github.com/zpiroux/psadapter/entity"
	"github.com/zpiroux/psadapter/pkg/notify"
)

// Error values returned by the adapter.
// Many of these errors will also contain additional details about the error.
// Error matching can still be done with 'if errors.Is(err, ErrTopicResolution)' etc.
// due to error wrapping.
var (
	ErrClientNotProvided      = errors.New("a pub/sub backend client must be provided")
	ErrInvalidChannel         = errors.New("channel name must not be empty")
	ErrInvalidMaxMessages     = errors.New("max messages must be a positive number")
	ErrInvalidSchema          = errors.New("invalid payload schema")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrNotStructured          = errors.New("payload is not structured")
	ErrTopicResolution        = errors.New("could not resolve topic")
	ErrSubscriptionResolution = errors.New("could not resolve subscription")
	ErrPublish                = errors.New("publish failed")
	ErrPull                   = errors.New("pull failed")
	ErrAcknowledge            = errors.New("acknowledgement failed")
	ErrHandlerNotProvided     = errors.New("a message handler must be provided")
	ErrHandlerPanic           = errors.New("handler panicked")
)

// Adapter translates channel based publish/subscribe to topic/subscription calls on
// the backend client. It has no internal synchronization; setters should not be called
// concurrently with other methods.
type Adapter struct {
	client   entity.Client
	config   Config
	schemas  *schemaValidator
	id       string
	log      *logger.Log
	notifier *notify.Notifier
}

// New creates an Adapter using the provided backend client. If config is nil, the
// defaults from NewConfig() are used.
func New(client entity.Client, config *Config) (*Adapter, error) {
	if isNil(client) {
		return nil, ErrClientNotProvided
	}
	if config == nil {
		config = NewConfig()
	}
	if config.MaxMessages <= 0 {
		return nil, fmt.Errorf("%w, got: %d", ErrInvalidMaxMessages, config.MaxMessages)
	}

	schemas, err := newSchemaValidator(config.Schemas)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		client:  client,
		config:  *config,
		schemas: schemas,
		id:      uuid.NewString(),
	}
	if config.Log {
		a.log = logger.New()
	}
	a.notifier = notify.New(config.NotifyChan, a.log, a.id)
	return a, nil
}

// Client returns the backend client.
func (a *Adapter) Client() entity.Client {
	return a.client
}

// SetClientIdentifier sets the identifier used when creating a subscription to a topic.
// See Config.ClientIdentifier.
func (a *Adapter) SetClientIdentifier(clientIdentifier string) {
	a.config.ClientIdentifier = clientIdentifier
}

// ClientIdentifier returns the identifier as set, i.e. empty if not set, even though
// "default" is used in subscription names.
func (a *Adapter) ClientIdentifier() string {
	return a.config.ClientIdentifier
}

func (a *Adapter) SetAutoCreateTopics(autoCreate bool) {
	a.config.AutoCreateTopics = autoCreate
}

func (a *Adapter) AutoCreateTopics() bool {
	return a.config.AutoCreateTopics
}

func (a *Adapter) SetAutoCreateSubscriptions(autoCreate bool) {
	a.config.AutoCreateSubscriptions = autoCreate
}

func (a *Adapter) AutoCreateSubscriptions() bool {
	return a.config.AutoCreateSubscriptions
}

func (a *Adapter) SetBackgroundBatching(enabled bool) {
	a.config.BackgroundBatching = enabled
}

func (a *Adapter) BackgroundBatching() bool {
	return a.config.BackgroundBatching
}

// SetMaxMessages sets the max number of messages to pull at a time.
func (a *Adapter) SetMaxMessages(maxMessages int) error {
	if maxMessages <= 0 {
		return fmt.Errorf("%w, got: %d", ErrInvalidMaxMessages, maxMessages)
	}
	a.config.MaxMessages = maxMessages
	return nil
}

func (a *Adapter) MaxMessages() int {
	return a.config.MaxMessages
}

func (a *Adapter) SetAckPolicy(policy AckPolicy) {
	a.config.AckPolicy = policy
}

func (a *Adapter) AckPolicy() AckPolicy {
	return a.config.AckPolicy
}

// SubscriptionName returns the name of the subscription used for the channel, on the
// format "<client identifier>.<channel>".
func (a *Adapter) SubscriptionName(channel string) string {
	clientIdentifier := a.config.ClientIdentifier
	if clientIdentifier == "" {
		clientIdentifier = defaultClientIdentifier
	}
	return clientIdentifier + "." + channel
}

// Topic returns the topic for the channel. If topic auto creation is enabled, the topic
// is created if it does not exist. If disabled, no calls are made to the service.
func (a *Adapter) Topic(ctx context.Context, channel string) (entity.Topic, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}

	topic := a.client.Topic(channel)
	if !a.config.AutoCreateTopics {
		return topic, nil
	}

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w %s, existence check failed, details: %v", ErrTopicResolution, channel, err)
	}
	if !exists {
		if err = topic.Create(ctx); err != nil {
			return nil, fmt.Errorf("%w %s, creation failed, details: %v", ErrTopicResolution, channel, err)
		}
		a.notifier.Infof("topic %s created", channel)
	}
	return topic, nil
}

// Subscription returns the subscription for the channel, resolving its topic first.
// If subscription auto creation is enabled, the subscription is created if it does not
// exist.
func (a *Adapter) Subscription(ctx context.Context, channel string) (entity.Subscription, error) {
	topic, err := a.Topic(ctx, channel)
	if err != nil {
		return nil, err
	}

	name := a.SubscriptionName(channel)
	sub := topic.Subscription(name)
	if !a.config.AutoCreateSubscriptions {
		return sub, nil
	}

	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w %s, existence check failed, details: %v", ErrSubscriptionResolution, name, err)
	}
	if !exists {
		if err = sub.Create(ctx); err != nil {
			return nil, fmt.Errorf("%w %s, creation failed, details: %v", ErrSubscriptionResolution, name, err)
		}
		a.notifier.Infof("subscription %s created on topic %s", name, channel)
	}
	return sub, nil
}

// Publish publishes a message to a channel. Strings and byte slices are sent unmodified,
// while other values are encoded as JSON (see PayloadOf).
func (a *Adapter) Publish(ctx context.Context, channel string, message any) error {
	topic, err := a.Topic(ctx, channel)
	if err != nil {
		return err
	}

	data, err := a.serialize(channel, message)
	if err != nil {
		return err
	}

	if err = a.publisher().Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("%w, channel: %s, details: %v", ErrPublish, channel, err)
	}
	a.notifier.Debugf("published to %s, batching: %v, data: %s", channel, a.config.BackgroundBatching, data)
	return nil
}

// PublishBatch publishes multiple messages to a channel, in order, with a single request.
// If any message cannot be serialized nothing is published.
func (a *Adapter) PublishBatch(ctx context.Context, channel string, messages []any) error {
	topic, err := a.Topic(ctx, channel)
	if err != nil {
		return err
	}

	batch := make([][]byte, 0, len(messages))
	for i, message := range messages {
		data, err := a.serialize(channel, message)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		batch = append(batch, data)
	}

	if err = a.publisher().PublishBatch(ctx, topic, batch); err != nil {
		return fmt.Errorf("%w, channel: %s, details: %v", ErrPublish, channel, err)
	}
	a.notifier.Debugf("published batch of %d messages to %s, batching: %v", len(batch), channel, a.config.BackgroundBatching)
	return nil
}

// Unsubscribe publishes the unsubscribe sentinel to the channel, terminating one
// subscriber loop per subscription receiving it.
func (a *Adapter) Unsubscribe(ctx context.Context, channel string) error {
	topic, err := a.Topic(ctx, channel)
	if err != nil {
		return err
	}
	if err = a.publisher().Publish(ctx, topic, []byte(UnsubscribeSentinel)); err != nil {
		return fmt.Errorf("%w, channel: %s, details: %v", ErrPublish, channel, err)
	}
	return nil
}

// Close flushes background publishes and closes the backend client.
func (a *Adapter) Close() error {
	a.notifier.Infof("closing adapter")
	return a.client.Close()
}

func (a *Adapter) publisher() Publisher {
	if a.config.BackgroundBatching {
		return BufferedPublisher{}
	}
	return ImmediatePublisher{}
}

func (a *Adapter) serialize(channel string, message any) ([]byte, error) {
	data, err := Serialize(PayloadOf(message))
	if err != nil {
		return nil, err
	}
	if err = a.schemas.validate(channel, data); err != nil {
		return nil, err
	}
	return data, nil
}

func errWithDetails(err error, errDetails error) error {
	return fmt.Errorf("%w, details: %v", err, errDetails)
}
