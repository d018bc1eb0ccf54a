// Package romeways is a message-consumption runtime. Applications register
// named connectors (queue backends) and per-queue callbacks (itineraries); the
// runtime polls every queue on its own schedule, decodes the retry envelope,
// invokes the callback and pushes messages back to their queue when the
// callback asks for it with Resend.
//
// A minimal setup builds a Registry, registers connectors and routes, creates
// a Service and calls Start:
//
//	reg := romeways.NewRegistry(logger)
//	_ = reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false)
//	_ = reg.RegisterRoute("emails", memory.QueueConfig{QueueConfig: connector.QueueConfig{
//		ConnectorName: "jobs",
//		Frequency:     time.Second,
//		MaxChunkSize:  10,
//	}}, handleEmail)
//	svc, err := romeways.NewService(reg, &romeways.Config{}, logger, romeways.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	return svc.Start(ctx)
//
// # Connectors
//
// Backends live under connector/ and register themselves in DefaultCatalog
// when imported; import connector/connectors to get all of them:
//   - memory: process-local FIFO queues
//   - channel: Watermill Go channels
//   - kafka: Kafka consumer groups via Sarama
//   - rabbitmq: AMQP durable queues
//   - nats, nats-jetstream: NATS core subjects and JetStream pull consumers
//   - sqs: Amazon SQS with LocalStack support
//   - sqlite, postgres: table queues drained with DELETE ... RETURNING
//
// # Workers
//
// Every connector gets one worker. A worker runs in a goroutine, or, when the
// connector is registered with spawnIsolated, in a re-executed copy of the
// running binary selected through WorkerEnvKey. The worker process rebuilds
// the same registry, so registration must not depend on state only the
// parent has. Use IsWorkerProcess to skip parent-only work such as producers.
//
// # Middleware and hooks
//
// The default chain wraps callbacks in an OpenTelemetry span and logs each
// payload at debug level. DispatchHooks observe the start, completion, failure
// and resend of every message. Prometheus collectors and a status endpoint are
// enabled through Config.
package romeways
