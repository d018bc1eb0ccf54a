// Package bridge turns a Watermill publisher/subscriber pair into a pull
// based romeways connector. Subscribed messages are acknowledged as soon as
// they are buffered, so delivery is at most once past the buffer.
package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/eapache/queue"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/internal/runtime/ids"
)

// DefaultBufferSize bounds the number of messages held between pulls.
const DefaultBufferSize = 1024

// Options tune a bridge connector.
type Options struct {
	// BufferSize bounds buffered messages. The subscription stops
	// acknowledging while the buffer is full. Defaults to DefaultBufferSize.
	BufferSize int
	// Shared leaves the publisher and subscriber open on Close. The
	// subscription still ends with the connector.
	Shared bool
}

// Connector polls a buffered Watermill subscription and publishes resends on
// the same topic.
type Connector struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     watermill.LoggerAdapter

	slots  chan struct{}
	shared bool

	mu      sync.Mutex
	buffer  *queue.Queue
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// New returns a connector for topic. publisher and subscriber may be the same
// value, as with gochannel.
func New(publisher message.Publisher, subscriber message.Subscriber, topic string, logger watermill.LoggerAdapter, opts Options) *Connector {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Connector{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
		logger:     logger.With(watermill.LogFields{"topic": topic}),
		slots:      make(chan struct{}, size),
		shared:     opts.Shared,
		buffer:     queue.New(),
	}
}

// Topic returns the topic the connector consumes and publishes.
func (c *Connector) Topic() string {
	return c.topic
}

// OnStart subscribes to the topic. The subscription lives until ctx is done or
// Close is called.
func (c *Connector) OnStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := c.subscriber.Subscribe(subCtx, c.topic)
	if err != nil {
		cancel()
		return err
	}
	c.cancel = cancel
	c.started = true

	c.wg.Add(1)
	go c.consume(subCtx, messages)
	return nil
}

func (c *Connector) consume(ctx context.Context, messages <-chan *message.Message) {
	defer c.wg.Done()
	for msg := range messages {
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			msg.Nack()
			continue
		}
		c.mu.Lock()
		c.buffer.Add([]byte(msg.Payload))
		c.mu.Unlock()
		msg.Ack()
	}
	c.logger.Debug("Subscription closed", nil)
}

// GetMessages returns up to maxChunkSize buffered payloads.
func (c *Connector) GetMessages(_ context.Context, maxChunkSize int) ([][]byte, error) {
	out := [][]byte{}
	if maxChunkSize <= 0 {
		return out, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, connector.ErrConnectorNotReady
	}
	for len(out) < maxChunkSize && c.buffer.Length() > 0 {
		payload, _ := c.buffer.Remove().([]byte)
		<-c.slots
		if payload == nil {
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

// SendMessages publishes message on the topic under a fresh ULID.
func (c *Connector) SendMessages(ctx context.Context, payload []byte) error {
	msg := message.NewMessage(ids.New(), payload)
	msg.SetContext(ctx)
	return c.publisher.Publish(c.topic, msg)
}

// Close stops the subscription and closes the publisher and subscriber.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if c.shared {
			c.wg.Wait()
			return
		}

		var errs []error
		if c.subscriber != nil {
			errs = append(errs, c.subscriber.Close())
		}
		if c.publisher != nil && !samePubSub(c.publisher, c.subscriber) {
			errs = append(errs, c.publisher.Close())
		}
		c.wg.Wait()
		err = errors.Join(errs...)
	})
	return err
}

func samePubSub(pub message.Publisher, sub message.Subscriber) bool {
	s, ok := sub.(message.Publisher)
	return ok && s == pub
}
