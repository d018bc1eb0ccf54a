// Package nats provides NATS connectors for romeways: a core NATS connector
// built on watermill-nats and a JetStream connector using native pull
// subscriptions.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

// TypeName is the name used to register the core NATS connector.
const TypeName = "nats"

// Type builds core NATS connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.NATSCapabilities,
}

func init() {
	connector.Register(Type)
	connector.Register(JetStreamType)
}

// Config holds the server settings shared by every queue of a connector.
type Config struct {
	connector.Config
	URL string `yaml:"url"`
	// ClientName is announced to the server for every connection.
	ClientName string `yaml:"client_name"`
}

func (c Config) options() []nc.Option {
	var opts []nc.Option
	if c.ClientName != "" {
		opts = append(opts, nc.Name(c.ClientName))
	}
	return opts
}

// QueueConfig selects the subject of one queue. Subject defaults to the
// queue name. QueueGroup makes the subscribers of several processes compete
// for messages.
type QueueConfig struct {
	connector.QueueConfig
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queue_group"`
	BufferSize int    `yaml:"buffer_size"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

func (q QueueConfig) subject(queueName string) string {
	if q.Subject != "" {
		return q.Subject
	}
	return queueName
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

// New is the connector.Factory of the core NATS backend.
func New(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	if cfg.URL == "" {
		return nil, errors.New("nats: url is required")
	}

	marshaler := &wmnats.NATSMarshaler{}
	jetStream := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         cfg.URL,
			NatsOptions: cfg.options(),
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("nats: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:              cfg.URL,
			NatsOptions:      cfg.options(),
			QueueGroupPrefix: qc.QueueGroup,
			Unmarshaler:      marshaler,
			JetStream:        jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("nats: create subscriber: %w", err)
	}

	return bridge.New(publisher, subscriber, qc.subject(queueName), logger, bridge.Options{BufferSize: qc.BufferSize}), nil
}
