// Package kafka provides a Kafka connector for romeways built on
// watermill-kafka and sarama.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

// TypeName is the name used to register this connector.
const TypeName = "kafka"

// Type builds Kafka connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.KafkaCapabilities,
}

func init() {
	connector.Register(Type)
}

// Config holds the broker settings shared by every queue of a connector.
type Config struct {
	connector.Config
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

// QueueConfig selects the topic and consumer group of one queue. Topic
// defaults to the queue name.
type QueueConfig struct {
	connector.QueueConfig
	Topic      string `yaml:"topic"`
	GroupID    string `yaml:"group_id"`
	BufferSize int    `yaml:"buffer_size"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// New is the connector.Factory of the Kafka backend.
func New(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	topic := qc.Topic
	if topic == "" {
		topic = queueName
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig(kafka.DefaultSaramaSyncPublisherConfig(), cfg.ClientID),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         qc.GroupID,
			OverwriteSaramaConfig: saramaConfig(kafka.DefaultSaramaSubscriberConfig(), cfg.ClientID),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("kafka: create subscriber: %w", err)
	}

	return bridge.New(publisher, subscriber, topic, logger, bridge.Options{BufferSize: qc.BufferSize}), nil
}

func saramaConfig(base *sarama.Config, clientID string) *sarama.Config {
	if clientID != "" {
		base.ClientID = clientID
	}
	return base
}
