package connector

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrFactoryRequired   = errors.New("romeways: connector factory is required")
	ErrUnknownType       = errors.New("romeways: unknown connector type")
	ErrUnexpectedConfig  = errors.New("romeways: unexpected connector config type")
	ErrConnectorNotReady = errors.New("romeways: connector was not started")
)

// Config holds the settings shared by every connector. Backend configs embed
// it and add their own fields.
type Config struct {
	// ConnectorName is the unique registry key used to route queues to this
	// connector.
	ConnectorName string `yaml:"connector_name" json:"connector_name"`
}

// ConnectorConfig implements Settings.
func (c Config) ConnectorConfig() Config { return c }

// Validate reports whether the config can be registered.
func (c Config) Validate() error {
	if c.ConnectorName == "" {
		return errors.New("connector_name is required")
	}
	return nil
}

// Settings is implemented by any struct embedding Config.
type Settings interface {
	ConnectorConfig() Config
}

// QueueConfig holds the per-queue consumption settings. Backend queue configs
// embed it.
type QueueConfig struct {
	// ConnectorName selects the connector the queue is consumed from.
	ConnectorName string `yaml:"connector_name" json:"connector_name"`
	// Frequency is the target period of one poll cycle.
	Frequency time.Duration `yaml:"frequency" json:"frequency"`
	// MaxChunkSize bounds the number of messages pulled per cycle.
	MaxChunkSize int `yaml:"max_chunk_size" json:"max_chunk_size"`
	// Sequential dispatches a chunk one message at a time, in order.
	Sequential bool `yaml:"sequential" json:"sequential"`
	// ResendOnResolveFail pushes messages back to the queue when their
	// callback asks for a resend.
	ResendOnResolveFail bool `yaml:"resend_on_resolve_fail" json:"resend_on_resolve_fail"`
}

// QueueOptions implements QueueSettings.
func (q QueueConfig) QueueOptions() QueueConfig { return q }

// Validate reports whether the queue config can be registered.
func (q QueueConfig) Validate() error {
	var errs []error
	if q.ConnectorName == "" {
		errs = append(errs, errors.New("connector_name is required"))
	}
	if q.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("frequency must be positive, got %s", q.Frequency))
	}
	return errors.Join(errs...)
}

// QueueSettings is implemented by any struct embedding QueueConfig. Backend
// configs must not declare a field or method named QueueOptions.
type QueueSettings interface {
	QueueOptions() QueueConfig
}

// As type-asserts settings to the backend config type T, accepting both the
// value and pointer forms.
func As[T any](settings any) (T, error) {
	var zero T
	switch v := settings.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedConfig, settings, zero)
}
