package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/romeways/connector"
)

// JetStreamTypeName is the name used to register the JetStream connector.
const JetStreamTypeName = "nats-jetstream"

// DefaultFetchWait bounds how long GetMessages waits for a pull batch.
const DefaultFetchWait = 100 * time.Millisecond

// JetStreamType builds JetStream pull connectors.
var JetStreamType = connector.Type{
	Name:         JetStreamTypeName,
	New:          NewJetStream,
	Capabilities: connector.JetStreamCapabilities,
}

// JetStreamQueueConfig configures one JetStream queue. Stream defaults to the
// upper-cased subject with dots replaced, Durable to the queue name.
type JetStreamQueueConfig struct {
	connector.QueueConfig
	Subject   string        `yaml:"subject"`
	Stream    string        `yaml:"stream"`
	Durable   string        `yaml:"durable"`
	FetchWait time.Duration `yaml:"fetch_wait"`
}

var _ connector.QueueSettings = JetStreamQueueConfig{}

// ConnectFactory allows overriding the NATS connection for testing.
var ConnectFactory = func(url string, opts ...nc.Option) (*nc.Conn, error) {
	return nc.Connect(url, opts...)
}

// JetStreamConnector pulls from a durable JetStream consumer.
type JetStreamConnector struct {
	cfg     Config
	subject string
	stream  string
	durable string
	wait    time.Duration
	logger  watermill.LoggerAdapter

	mu   sync.Mutex
	conn *nc.Conn
	js   nc.JetStreamContext
	sub  *nc.Subscription
}

// NewJetStream is the connector.Factory of the JetStream backend. The
// connection is opened in OnStart.
func NewJetStream(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
	cfg, err := connector.As[Config](settings)
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: %w", err)
	}
	qc, err := connector.As[JetStreamQueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: %w", err)
	}
	if cfg.URL == "" {
		return nil, errors.New("nats-jetstream: url is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	subject := qc.Subject
	if subject == "" {
		subject = queueName
	}
	stream := qc.Stream
	if stream == "" {
		stream = streamName(subject)
	}
	durable := qc.Durable
	if durable == "" {
		durable = streamName(queueName)
	}
	wait := qc.FetchWait
	if wait <= 0 {
		wait = DefaultFetchWait
	}

	return &JetStreamConnector{
		cfg:     cfg,
		subject: subject,
		stream:  stream,
		durable: durable,
		wait:    wait,
		logger:  logger.With(watermill.LogFields{"subject": subject, "stream": stream}),
	}, nil
}

// streamName derives a valid stream or durable name from a subject.
func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "ANY", ">", "ALL", " ", "_").Replace(subject))
}

// OnStart connects, ensures the stream exists and binds the pull consumer.
func (c *JetStreamConnector) OnStart(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	conn, err := ConnectFactory(c.cfg.URL, c.cfg.options()...)
	if err != nil {
		return fmt.Errorf("nats-jetstream: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("nats-jetstream: context: %w", err)
	}

	if _, err := js.StreamInfo(c.stream); err != nil {
		if !errors.Is(err, nc.ErrStreamNotFound) {
			conn.Close()
			return fmt.Errorf("nats-jetstream: stream info: %w", err)
		}
		c.logger.Info("Creating stream", nil)
		if _, err := js.AddStream(&nc.StreamConfig{Name: c.stream, Subjects: []string{c.subject}}); err != nil {
			conn.Close()
			return fmt.Errorf("nats-jetstream: create stream: %w", err)
		}
	}

	sub, err := js.PullSubscribe(c.subject, c.durable, nc.BindStream(c.stream))
	if err != nil {
		conn.Close()
		return fmt.Errorf("nats-jetstream: pull subscribe: %w", err)
	}

	c.conn, c.js, c.sub = conn, js, sub
	return nil
}

// GetMessages fetches up to maxChunkSize messages, waiting at most the fetch
// wait. Messages are acknowledged once fetched.
func (c *JetStreamConnector) GetMessages(ctx context.Context, maxChunkSize int) ([][]byte, error) {
	out := [][]byte{}
	if maxChunkSize <= 0 {
		return out, nil
	}
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil, connector.ErrConnectorNotReady
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()
	msgs, err := sub.Fetch(maxChunkSize, nc.Context(fetchCtx))
	if err != nil && !isEmptyFetch(err) {
		return nil, fmt.Errorf("nats-jetstream: fetch: %w", err)
	}
	for _, m := range msgs {
		if ackErr := m.Ack(); ackErr != nil {
			c.logger.Error("Failed to ack message", ackErr, nil)
		}
		if m.Data == nil {
			continue
		}
		out = append(out, m.Data)
	}
	return out, nil
}

func isEmptyFetch(err error) bool {
	return errors.Is(err, nc.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// SendMessages publishes the payload on the subject.
func (c *JetStreamConnector) SendMessages(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	js := c.js
	c.mu.Unlock()
	if js == nil {
		return connector.ErrConnectorNotReady
	}
	if _, err := js.Publish(c.subject, payload, nc.Context(ctx)); err != nil {
		return fmt.Errorf("nats-jetstream: publish: %w", err)
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (c *JetStreamConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.conn.Close()
	c.conn, c.js, c.sub = nil, nil, nil
	if errors.Is(err, nc.ErrConnectionClosed) {
		return nil
	}
	return err
}
