// Package memory provides an in-process FIFO connector for romeways.
// It is useful for tests, local development and single-process pipelines.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/eapache/queue"

	"github.com/drblury/romeways/connector"
)

// TypeName is the name used to register this connector.
const TypeName = "memory"

// Type builds memory connectors.
var Type = connector.Type{
	Name:         TypeName,
	New:          New,
	Capabilities: connector.MemoryCapabilities,
}

func init() {
	connector.Register(Type)
}

// Config configures a memory connector. It carries no backend settings.
type Config struct {
	connector.Config
}

// QueueConfig configures one memory queue. When Queue is nil, the queue named
// after the connector and queue name is used, so producers can reach it with
// Named.
type QueueConfig struct {
	connector.QueueConfig
	Queue *Queue
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// Queue is a goroutine-safe FIFO of raw payloads.
type Queue struct {
	mu    sync.Mutex
	items *queue.Queue
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{items: queue.New()}
}

// Put appends a payload. Nil payloads are kept and skipped on retrieval.
func (q *Queue) Put(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Add(payload)
}

// Take removes up to n payloads in enqueue order, skipping nil entries.
func (q *Queue) Take(n int) [][]byte {
	out := [][]byte{}
	if n <= 0 {
		return out
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(out) < n && q.items.Length() > 0 {
		item := q.items.Remove()
		payload, ok := item.([]byte)
		if !ok || payload == nil {
			continue
		}
		out = append(out, payload)
	}
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

var (
	namedMu sync.Mutex
	named   = map[string]*Queue{}
)

// Named returns the process-wide queue of a connector and queue name,
// creating it on first use.
func Named(connectorName, queueName string) *Queue {
	key := connectorName + "/" + queueName
	namedMu.Lock()
	defer namedMu.Unlock()
	q, ok := named[key]
	if !ok {
		q = NewQueue()
		named[key] = q
	}
	return q
}

// ResetNamed drops every named queue (useful for testing).
func ResetNamed() {
	namedMu.Lock()
	defer namedMu.Unlock()
	named = map[string]*Queue{}
}

// Connector reads from and writes to one Queue.
type Connector struct {
	queue *Queue
}

// New is the connector.Factory of the memory backend.
func New(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, _ watermill.LoggerAdapter) (connector.Connector, error) {
	if _, err := connector.As[Config](settings); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	qc, err := connector.As[QueueConfig](qs)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	q := qc.Queue
	if q == nil {
		q = Named(settings.ConnectorConfig().ConnectorName, queueName)
	}
	return &Connector{queue: q}, nil
}

// OnStart implements connector.Connector.
func (c *Connector) OnStart(context.Context) error {
	return nil
}

// GetMessages implements connector.Connector.
func (c *Connector) GetMessages(_ context.Context, maxChunkSize int) ([][]byte, error) {
	return c.queue.Take(maxChunkSize), nil
}

// SendMessages implements connector.Connector.
func (c *Connector) SendMessages(_ context.Context, message []byte) error {
	c.queue.Put(message)
	return nil
}
