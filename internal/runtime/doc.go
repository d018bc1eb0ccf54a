/*
Package runtime provides the dispatch core of romeways.

# Architecture Overview

Applications register connectors (queue backends) and routes (one callback per
queue) in a Registry. A Service turns the registry into running work: one
worker per connector, one scheduler per route.

# Package Structure

## Registry (registry.go, models.go)

The Registry holds connector registrations (RegionMap) and route registrations
(Itinerary). The first connector registration of a name wins. Registrations
are rejected once the Service has started.

## Worker Spawner (spawner.go, worker.go)

One Spawner per connector runs its worker either as a goroutine or, when the
connector was registered as isolated, as a child process that re-executes the
program with WorkerEnvKey set. Closing a spawner cancels the worker and kills
the process without draining in-flight work.

## Scheduler (chauffeur.go)

Each itinerary gets its own connector instance and a scheduler that repeats
WAIT, PULL and DISPATCH:
  - WAIT sleeps so cycles start Frequency apart and warns when a cycle overran
  - PULL asks the connector for at most MaxChunkSize raw messages
  - DISPATCH decodes every message and calls the callback, one at a time when
    Sequential is set, all at once otherwise

A callback returning an error that matches errors.ErrResend pushes the message
back to its queue with an incremented resend count when the queue has
ResendOnResolveFail set. Every other failure is logged and swallowed.

## Middleware and Hooks (middleware.go, hooks.go)

Callbacks are wrapped by a middleware chain (tracing, payload logging) and
observed through DispatchHooks.

## Monitoring (metrics.go, status.go)

Prometheus collectors for dispatch outcomes, overruns and cycle durations, and
an HTTP status API listing the routes and their counters.

# Sub-packages

  - config/: Service configuration with validation
  - envelope/: Resend envelope codec
  - errors/: Sentinel errors and error types
  - handlers/: Typed JSON and protobuf callbacks
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters

# Usage Example

	reg := romeways.NewRegistry(logger)
	_ = reg.RegisterConnector(memory.Type, memory.Config{
		Config: connector.Config{ConnectorName: "jobs"},
	}, false)
	_ = reg.RegisterRoute("emails", memory.QueueConfig{
		QueueConfig: connector.QueueConfig{ConnectorName: "jobs", Frequency: time.Second, MaxChunkSize: 10},
	}, sendEmail)

	svc, err := romeways.NewService(reg, &romeways.Config{}, logger, romeways.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
