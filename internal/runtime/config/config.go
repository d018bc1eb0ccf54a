package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultStatusPort       = 8081
	DefaultMetricsNamespace = "romeways"
)

// Config groups the runtime settings of a Service. Connector and queue
// settings are not part of it; they travel with their registrations.
type Config struct {
	// LogLevel is used by example programs to build their logger.
	LogLevel string `yaml:"log_level"`

	// Metrics configuration.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsPort is the port where Prometheus metrics will be exposed. Zero
	// keeps the collectors registered without serving them.
	MetricsPort int `yaml:"metrics_port"`
	// MetricsNamespace prefixes every collector. Defaults to "romeways".
	MetricsNamespace string `yaml:"metrics_namespace"`

	// Status endpoint configuration.
	StatusEnabled bool `yaml:"status_enabled"`
	// StatusPort is where the status API listens. Defaults to 8081.
	StatusPort int `yaml:"status_port"`
	// StatusCORSAllowedOrigins specifies allowed origins for CORS. Use "*" for
	// development or explicit origins in production. Empty disables CORS headers.
	StatusCORSAllowedOrigins []string `yaml:"status_cors_allowed_origins"`

	// WorkerExecutable overrides the binary re-executed for isolated workers.
	// Empty means the running executable.
	WorkerExecutable string `yaml:"worker_executable"`
	// WorkerArgs overrides the arguments passed to isolated workers. Nil means
	// the arguments of the running process.
	WorkerArgs []string `yaml:"worker_args"`
	// WorkerEnv is appended to the environment of isolated workers.
	WorkerEnv []string `yaml:"worker_env"`
}

// Load decodes a YAML document into a Config. Unknown keys are rejected.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	conf := &Config{}
	if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return conf, nil
}

// ResolvedStatusPort returns the configured status port or its default.
func (c *Config) ResolvedStatusPort() int {
	if c.StatusPort == 0 {
		return DefaultStatusPort
	}
	return c.StatusPort
}

// ResolvedMetricsNamespace returns the configured namespace or its default.
func (c *Config) ResolvedMetricsNamespace() string {
	if c.MetricsNamespace == "" {
		return DefaultMetricsNamespace
	}
	return c.MetricsNamespace
}

func (c Config) String() string {
	copy := c
	copy.WorkerEnv = redactEnv(copy.WorkerEnv)
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// redactEnv hides the values of worker environment entries.
func redactEnv(env []string) []string {
	if len(env) == 0 {
		return env
	}
	out := make([]string, len(env))
	for i, kv := range env {
		key, _, found := strings.Cut(kv, "=")
		if found {
			out[i] = key + "=***REDACTED***"
		} else {
			out[i] = kv
		}
	}
	return out
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validatePorts()...)
	errs = append(errs, c.validateWorker()...)

	return errors.Join(errs...)
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		errs = append(errs, fmt.Errorf("status: invalid port %d", c.StatusPort))
	}
	return errs
}

func (c *Config) validateWorker() []error {
	var errs []error
	for _, kv := range c.WorkerEnv {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("worker: environment entry %q must be KEY=VALUE", kv))
		}
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
