// Package connectors imports all built-in connector backends for
// auto-registration with the default catalog.
package connectors

import (
	_ "github.com/drblury/romeways/connector/aws"
	_ "github.com/drblury/romeways/connector/channel"
	_ "github.com/drblury/romeways/connector/kafka"
	_ "github.com/drblury/romeways/connector/memory"
	_ "github.com/drblury/romeways/connector/nats"
	_ "github.com/drblury/romeways/connector/rabbitmq"
	_ "github.com/drblury/romeways/connector/sqlqueue"
)
