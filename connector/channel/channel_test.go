package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

func TestRegister(t *testing.T) {
	typ, err := connector.Lookup(TypeName)
	require.NoError(t, err)
	assert.Equal(t, connector.ChannelCapabilities, typ.Capabilities)
	assert.False(t, typ.Capabilities.CrossProcess)
}

func TestNewSharesPubSubPerConnector(t *testing.T) {
	t.Cleanup(Reset)

	settings := Config{Config: connector.Config{ConnectorName: "local"}}
	queue := QueueConfig{QueueConfig: connector.QueueConfig{ConnectorName: "local"}}

	consumer, err := New(context.Background(), settings, "events", queue, watermill.NopLogger{})
	require.NoError(t, err)
	producer, err := New(context.Background(), settings, "events", queue, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = consumer.(*bridge.Connector).Close()
		_ = producer.(*bridge.Connector).Close()
	})

	require.NoError(t, consumer.OnStart(context.Background()))
	require.NoError(t, producer.SendMessages(context.Background(), []byte("ping")))

	var got [][]byte
	require.Eventually(t, func() bool {
		batch, _ := consumer.GetMessages(context.Background(), 10)
		got = append(got, batch...)
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ping", string(got[0]))
}

func TestTopicDefaultsToQueueName(t *testing.T) {
	t.Cleanup(Reset)

	conn, err := New(context.Background(),
		Config{Config: connector.Config{ConnectorName: "local"}},
		"events",
		QueueConfig{Topic: "custom"},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "custom", conn.(*bridge.Connector).Topic())

	conn, err = New(context.Background(),
		Config{Config: connector.Config{ConnectorName: "local"}},
		"events",
		QueueConfig{},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "events", conn.(*bridge.Connector).Topic())
}

func TestUsesCustomFactory(t *testing.T) {
	t.Cleanup(Reset)
	original := Factory
	defer func() { Factory = original }()

	var seen gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		seen = cfg
		return gochannel.NewGoChannel(cfg, logger)
	}

	PubSub(Config{Config: connector.Config{ConnectorName: "buffered"}, OutputChannelBuffer: 32, Persistent: true}, watermill.NopLogger{})
	assert.Equal(t, int64(32), seen.OutputChannelBuffer)
	assert.True(t, seen.Persistent)
}

func TestNewRejectsForeignConfig(t *testing.T) {
	_, err := New(context.Background(), connector.Config{ConnectorName: "x"}, "q", QueueConfig{}, nil)
	assert.ErrorIs(t, err, connector.ErrUnexpectedConfig)
}
