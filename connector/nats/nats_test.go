package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

func testConfig() Config {
	return Config{
		Config:     connector.Config{ConnectorName: "nats"},
		URL:        "nats://localhost:4222",
		ClientName: "romeways",
	}
}

func TestRegister(t *testing.T) {
	core, err := connector.Lookup(TypeName)
	require.NoError(t, err)
	assert.Equal(t, connector.NATSCapabilities, core.Capabilities)

	js, err := connector.Lookup(JetStreamTypeName)
	require.NoError(t, err)
	assert.True(t, js.Capabilities.Persistent)
}

func TestNew(t *testing.T) {
	t.Run("creates connector with mocked factories", func(t *testing.T) {
		originalPub, originalSub := PublisherFactory, SubscriberFactory
		defer func() {
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.True(t, cfg.JetStream.Disabled)
			assert.Len(t, cfg.NatsOptions, 1)
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, "workers", cfg.QueueGroupPrefix)
			assert.True(t, cfg.JetStream.Disabled)
			return &mockSubscriber{}, nil
		}

		conn, err := New(context.Background(), testConfig(), "jobs",
			QueueConfig{Subject: "jobs.created", QueueGroup: "workers"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, "jobs.created", conn.(*bridge.Connector).Topic())
	})

	t.Run("returns error when url is empty", func(t *testing.T) {
		cfg := testConfig()
		cfg.URL = ""
		_, err := New(context.Background(), cfg, "jobs", QueueConfig{}, nil)
		assert.EqualError(t, err, "nats: url is required")
	})

	t.Run("returns error when subscriber factory fails", func(t *testing.T) {
		originalPub, originalSub := PublisherFactory, SubscriberFactory
		defer func() {
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		pub := &mockPublisher{}
		PublisherFactory = func(wmnats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(wmnats.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := New(context.Background(), testConfig(), "jobs", QueueConfig{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
		assert.True(t, pub.closed)
	})
}

func TestNewJetStreamDefaults(t *testing.T) {
	conn, err := NewJetStream(context.Background(), testConfig(), "jobs",
		JetStreamQueueConfig{Subject: "jobs.created"}, nil)
	require.NoError(t, err)

	js := conn.(*JetStreamConnector)
	assert.Equal(t, "jobs.created", js.subject)
	assert.Equal(t, "JOBS_CREATED", js.stream)
	assert.Equal(t, "JOBS", js.durable)
	assert.Equal(t, DefaultFetchWait, js.wait)
}

func TestJetStreamNotStarted(t *testing.T) {
	conn, err := NewJetStream(context.Background(), testConfig(), "jobs", JetStreamQueueConfig{}, nil)
	require.NoError(t, err)

	items, err := conn.GetMessages(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = conn.GetMessages(context.Background(), 1)
	assert.ErrorIs(t, err, connector.ErrConnectorNotReady)
	assert.ErrorIs(t, conn.SendMessages(context.Background(), []byte("x")), connector.ErrConnectorNotReady)
	assert.NoError(t, conn.(*JetStreamConnector).Close())
}

func TestJetStreamConnectError(t *testing.T) {
	original := ConnectFactory
	defer func() { ConnectFactory = original }()
	ConnectFactory = func(string, ...nc.Option) (*nc.Conn, error) {
		return nil, errors.New("no servers available")
	}

	conn, err := NewJetStream(context.Background(), testConfig(), "jobs", JetStreamQueueConfig{}, nil)
	require.NoError(t, err)

	err = conn.OnStart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no servers available")
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "ORDERS_ANY", streamName("orders.*"))
	assert.Equal(t, "ORDERS_ALL", streamName("orders.>"))
}

type mockPublisher struct {
	closed bool
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
