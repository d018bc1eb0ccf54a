package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrRegistryRequired = sterrors.New("romeways: route registry is required")
	ErrRegistryFrozen   = sterrors.New("romeways: registry is frozen once the service has started")
	ErrConfigRequired   = sterrors.New("romeways: configuration is required")
	ErrLoggerRequired   = sterrors.New("romeways: logger is required")
	ErrUnknownConnector = sterrors.New("romeways: unknown connector")
	ErrServiceStarted   = sterrors.New("romeways: service already started")

	ErrHandlerRequired             = sterrors.New("romeways: handler is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("romeways: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("romeways: consume message type must be a pointer")

	// ErrResend is the retry signal. A callback returns it (usually through
	// Resend) to ask for its message to be pushed back to the queue.
	ErrResend = sterrors.New("romeways: resend requested")
)

// ConfigTypeError is returned when a connector or queue configuration does not
// satisfy the registration contract.
type ConfigTypeError struct {
	Field  string
	Reason string
}

func (e *ConfigTypeError) Error() string {
	if e.Field == "" {
		return "romeways: invalid config: " + e.Reason
	}
	return fmt.Sprintf("romeways: invalid config field %s: %s", e.Field, e.Reason)
}

// CallbackTypeError is returned when a route callback is not usable.
type CallbackTypeError struct {
	Reason string
}

func (e *CallbackTypeError) Error() string {
	return "romeways: invalid callback: " + e.Reason
}

// ConnectorTypeError is returned when a connector type cannot build connectors.
type ConnectorTypeError struct {
	Name   string
	Reason string
}

func (e *ConnectorTypeError) Error() string {
	return fmt.Sprintf("romeways: invalid connector type %q: %s", e.Name, e.Reason)
}

// ResendError carries the reason a callback asked for a resend. It matches
// ErrResend with errors.Is.
type ResendError struct {
	Cause error
}

// Resend wraps cause into a retry signal.
func Resend(cause error) error {
	return &ResendError{Cause: cause}
}

func (e *ResendError) Error() string {
	if e.Cause == nil {
		return ErrResend.Error()
	}
	return ErrResend.Error() + ": " + e.Cause.Error()
}

func (e *ResendError) Unwrap() error { return e.Cause }

func (e *ResendError) Is(target error) bool { return target == ErrResend }

// IsResend reports whether err carries the retry signal.
func IsResend(err error) bool {
	return sterrors.Is(err, ErrResend)
}

// ConfigValidationError wraps a failed runtime configuration validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "romeways: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// PanicError is produced when a callback panics during dispatch.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("romeways: callback panicked: %v", e.Value)
}
