package connector

// Capabilities describes the features of a connector backend.
type Capabilities struct {
	// CrossProcess indicates two processes building the same connector see the
	// same queues. Backends without it cannot feed an isolated worker.
	CrossProcess bool

	// Persistent indicates queued messages survive a restart of the runtime.
	Persistent bool

	// SupportsOrdering indicates GetMessages returns messages in enqueue order.
	SupportsOrdering bool

	// Name is the human-readable name of the backend.
	Name string
}

// SupportsIsolation reports whether the backend can be used by a connector
// registered with spawnIsolated.
func (c Capabilities) SupportsIsolation() bool {
	return c.CrossProcess
}

// Predefined capability sets for the built-in connectors.
var (
	MemoryCapabilities = Capabilities{
		Name:             "memory",
		SupportsOrdering: true,
	}

	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		CrossProcess:     true,
		Persistent:       true,
		SupportsOrdering: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		CrossProcess:     true,
		Persistent:       true,
		SupportsOrdering: true,
	}

	NATSCapabilities = Capabilities{
		Name:         "nats",
		CrossProcess: true,
	}

	JetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		CrossProcess:     true,
		Persistent:       true,
		SupportsOrdering: true,
	}

	SQSCapabilities = Capabilities{
		Name:         "sqs",
		CrossProcess: true,
		Persistent:   true,
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		CrossProcess:     true,
		Persistent:       true,
		SupportsOrdering: true,
	}

	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		CrossProcess:     true,
		Persistent:       true,
		SupportsOrdering: true,
	}
)
