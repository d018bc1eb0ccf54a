// Package rabbitmq provides a RabbitMQ/AMQP connector for romeways.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

// TypeName is the name used to register this connector.
const TypeName = "rabbitmq"

// Type builds RabbitMQ connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.RabbitMQCapabilities,
}

func init() {
	connector.Register(Type)
}

// Config holds the broker URL of a connector.
type Config struct {
	connector.Config
	URL string `yaml:"url"`
}

// QueueConfig configures one durable AMQP queue. Routing defaults to the
// queue name.
type QueueConfig struct {
	connector.QueueConfig
	Routing    string `yaml:"routing"`
	BufferSize int    `yaml:"buffer_size"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// New is the connector.Factory of the RabbitMQ backend. Each connector owns
// its AMQP connection.
func New(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	routing := qc.Routing
	if routing == "" {
		routing = queueName
	}

	amqpConfig := amqp.NewDurableQueueConfig(cfg.URL)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   cfg.URL,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: connect: %w", err)
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		closeConnection(conn)
		return nil, fmt.Errorf("rabbitmq: create publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		closeConnection(conn)
		return nil, fmt.Errorf("rabbitmq: create subscriber: %w", err)
	}

	return &Connector{
		Connector: bridge.New(publisher, subscriber, routing, logger, bridge.Options{BufferSize: qc.BufferSize}),
		conn:      conn,
	}, nil
}

// Connector is a bridge connector that also owns its AMQP connection.
type Connector struct {
	*bridge.Connector
	conn *amqp.ConnectionWrapper
}

// Close closes the publisher, the subscriber and the connection.
func (c *Connector) Close() error {
	err := c.Connector.Close()
	if c.conn != nil {
		err = errors.Join(err, c.conn.Close())
	}
	return err
}

func closeConnection(conn *amqp.ConnectionWrapper) {
	if conn != nil {
		_ = conn.Close()
	}
}
