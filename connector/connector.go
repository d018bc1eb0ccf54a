// Package connector defines the contract between the romeways runtime and the
// queue backends it polls. Each backend (memory, kafka, rabbitmq, sqlqueue, ...)
// lives in its own sub-package and registers a Type with the connector catalog.
package connector

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
)

// Connector is the minimal pull/push contract of a queue backend. One
// Connector is built for every itinerary, so implementations never need to be
// shared between schedulers.
type Connector interface {
	// OnStart is called exactly once before the first GetMessages call.
	OnStart(ctx context.Context) error

	// GetMessages returns at most maxChunkSize raw payloads in backend
	// retrieval order. It returns an empty slice when maxChunkSize <= 0 or
	// nothing is available.
	GetMessages(ctx context.Context, maxChunkSize int) ([][]byte, error)

	// SendMessages enqueues one raw payload to the queue this connector was
	// built for.
	SendMessages(ctx context.Context, message []byte) error
}

// Factory builds a Connector for a single queue. settings is the value passed
// at connector registration and queue the one passed at route registration;
// backends type-assert them to their own config types.
type Factory func(ctx context.Context, settings Settings, queueName string, queue QueueSettings, logger watermill.LoggerAdapter) (Connector, error)

// Type describes a connector backend: how to build it and what it can do.
type Type struct {
	Name         string
	New          Factory
	Capabilities Capabilities
}

// Build invokes the type's factory.
func (t Type) Build(ctx context.Context, settings Settings, queueName string, queue QueueSettings, logger watermill.LoggerAdapter) (Connector, error) {
	if t.New == nil {
		return nil, ErrFactoryRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return t.New(ctx, settings, queueName, queue, logger)
}
