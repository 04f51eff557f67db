package xkafka

import (
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	defaultPollTimeoutMs     = 500
	defaultFlushTimeoutMs    = 10000
	defaultMetadataTimeoutMs = 10000
	defaultSeekTimeoutMs     = 5000
	defaultNumPartitions     = 1
	defaultReplicationFactor = 1
)

type ConfigMap map[string]any

// Config for the Kafka client. Create with NewConfig().
type Config struct {

	// Props are applied to both producer and consumers and support all Kafka client
	// properties, e.g. "bootstrap.servers" and "sasl.*" props.
	Props ConfigMap

	// Consumer-only properties. Overrides Props. The consumer properties "group.id"
	// and "enable.auto.commit" are always set by the client.
	ConsumerProps ConfigMap

	// Used when creating topics
	NumPartitions     int
	ReplicationFactor int

	// PollTimeoutMs is the timeout of each consumer read while waiting for messages.
	PollTimeoutMs int

	FlushTimeoutMs    int
	MetadataTimeoutMs int
	SeekTimeoutMs     int
}

func NewConfig(bootstrapServers string) Config {
	return Config{
		Props: ConfigMap{
			"bootstrap.servers": bootstrapServers,
		},
		ConsumerProps: ConfigMap{
			"auto.offset.reset": "earliest",
		},
		NumPartitions:     defaultNumPartitions,
		ReplicationFactor: defaultReplicationFactor,
		PollTimeoutMs:     defaultPollTimeoutMs,
		FlushTimeoutMs:    defaultFlushTimeoutMs,
		MetadataTimeoutMs: defaultMetadataTimeoutMs,
		SeekTimeoutMs:     defaultSeekTimeoutMs,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("pollTimeoutMs: %d, numPartitions: %d, replicationFactor: %d, props: %+v, consumerProps: %+v",
		c.PollTimeoutMs, c.NumPartitions, c.ReplicationFactor, displayConfig(c.Props), displayConfig(c.ConsumerProps))
}

func (c Config) producerConfigMap(clientID string) *kafka.ConfigMap {
	kconfig := kafka.ConfigMap{"client.id": clientID}
	for k, v := range c.Props {
		kconfig[k] = v
	}
	return &kconfig
}

func (c Config) consumerConfigMap(clientID, groupID string) *kafka.ConfigMap {
	kconfig := kafka.ConfigMap{"client.id": clientID}
	for k, v := range c.Props {
		kconfig[k] = v
	}
	for k, v := range c.ConsumerProps {
		kconfig[k] = v
	}
	kconfig["group.id"] = groupID
	kconfig["enable.auto.commit"] = false
	return &kconfig
}

func displayConfig(in ConfigMap) ConfigMap {
	out := make(ConfigMap)
	for k, v := range in {
		if k != "sasl.password" {
			out[k] = v
		}
	}
	return out
}
