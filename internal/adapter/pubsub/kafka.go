// Package pubsub adapts the hub to its Kafka broker: consumer-group
// subscribers for the ingest topics and a keyed, idempotent publisher for
// outbound commands and the quarantine topic.
package pubsub

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/inventra/ims-event-hub/config"
)

// Ingest and egress topics. Topic names are part of the platform contract
// and are not configurable.
const (
	TopicPositionEvents  = "position-events"
	TopicInventoryEvents = "inventory-events"
	TopicLocateEvents    = "locate-events"
	TopicLimitEvents     = "limit-events"
	TopicAlertEvents     = "alert-events"
	TopicWorkflowEvents  = "workflow-events"
)

// IngestTopics lists every topic the consumer pool subscribes to.
func IngestTopics() []string {
	return []string{
		TopicPositionEvents,
		TopicInventoryEvents,
		TopicLocateEvents,
		TopicLimitEvents,
		TopicAlertEvents,
		TopicWorkflowEvents,
	}
}

// MetaPartitionKey carries the outbound partition key on message metadata;
// the partitioning marshaler reads it when producing.
const MetaPartitionKey = "partition_key"

// SubscriberFactory builds one consumer-group subscriber per router handler.
// Each subscriber is one member of the shared consumer group, so the broker
// balances partitions across however many handlers the router registers.
type SubscriberFactory struct {
	cfg    *config.Config
	logger watermill.LoggerAdapter
}

func NewSubscriberFactory(cfg *config.Config, logger watermill.LoggerAdapter) *SubscriberFactory {
	return &SubscriberFactory{cfg: cfg, logger: logger}
}

func (f *SubscriberFactory) New() (message.Subscriber, error) {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Fetch.Min = 1024
	saramaCfg.Consumer.MaxWaitTime = 500 * time.Millisecond
	saramaCfg.ChannelBufferSize = 500

	return kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               f.cfg.Broker.BootstrapServers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaCfg,
		ConsumerGroup:         f.cfg.Broker.GroupID,
	}, f.logger)
}

// NewKafkaPublisher builds the shared producer used for outbound commands
// and quarantined messages. Producing is idempotent with full-ISR acks so a
// broker failover cannot silently drop or duplicate a command.
func NewKafkaPublisher(cfg *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Flush.Bytes = 16 * 1024
	saramaCfg.Producer.Flush.Frequency = 5 * time.Millisecond

	return kafka.NewPublisher(kafka.PublisherConfig{
		Brokers: cfg.Broker.BootstrapServers,
		Marshaler: kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
			if key := msg.Metadata.Get(MetaPartitionKey); key != "" {
				return key, nil
			}
			// Quarantined messages carry no business key; the UUID spreads
			// them evenly.
			return msg.UUID, nil
		}),
		OverwriteSaramaConfig: saramaCfg,
	}, logger)
}
