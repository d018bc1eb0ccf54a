// Package channel provides a Watermill Go channel connector for romeways.
// Every connector built under the same connector name shares one GoChannel,
// so producers and consumers of a process see the same topics.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/bridge"
)

// TypeName is the name used to register this connector.
const TypeName = "channel"

// Type builds channel connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.ChannelCapabilities,
}

func init() {
	connector.Register(Type)
}

// Config configures the shared GoChannel of a connector name.
type Config struct {
	connector.Config
	// OutputChannelBuffer is the buffer of each subscription channel.
	OutputChannelBuffer int64 `yaml:"output_channel_buffer"`
	// Persistent keeps published messages for late subscribers.
	Persistent bool `yaml:"persistent"`
}

// QueueConfig configures one channel queue. Topic defaults to the queue name.
type QueueConfig struct {
	connector.QueueConfig
	Topic      string `yaml:"topic"`
	BufferSize int    `yaml:"buffer_size"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// Factory allows overriding the GoChannel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

var (
	pubSubsMu sync.Mutex
	pubSubs   = map[string]*gochannel.GoChannel{}
)

// PubSub returns the GoChannel shared by a connector name, creating it from
// cfg on first use.
func PubSub(cfg Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	name := cfg.ConnectorName
	pubSubsMu.Lock()
	defer pubSubsMu.Unlock()
	if ps, ok := pubSubs[name]; ok {
		return ps
	}
	ps := Factory(gochannel.Config{
		OutputChannelBuffer: cfg.OutputChannelBuffer,
		Persistent:          cfg.Persistent,
	}, logger)
	pubSubs[name] = ps
	return ps
}

// Reset closes and forgets every shared GoChannel (useful for testing).
func Reset() {
	pubSubsMu.Lock()
	defer pubSubsMu.Unlock()
	for _, ps := range pubSubs {
		_ = ps.Close()
	}
	pubSubs = map[string]*gochannel.GoChannel{}
}

// New is the connector.Factory of the channel backend.
func New(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	topic := qc.Topic
	if topic == "" {
		topic = queueName
	}
	ps := PubSub(cfg, logger)
	return bridge.New(ps, ps, topic, logger, bridge.Options{BufferSize: qc.BufferSize, Shared: true}), nil
}
