package handlers

import (
	"context"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// MessageContextBase carries what typed handlers share: the decoded envelope
// and the logger of the route.
type MessageContextBase struct {
	Message envelope.Message
	Logger  loggingpkg.ServiceLogger
}

// ResendCount returns how many times the message was pushed back to its queue.
func (b MessageContextBase) ResendCount() int {
	return b.Message.ResendCount
}

// Redelivered reports whether the message went through at least one resend.
func (b MessageContextBase) Redelivered() bool {
	return b.Message.ResendCount > 0
}

// Resend wraps cause into the retry signal. Return it from the handler to push
// the message back to its queue.
func (b MessageContextBase) Resend(cause error) error {
	return errspkg.Resend(cause)
}

// Callback is the untyped form every typed handler is converted to, usable
// directly as a route callback.
type Callback = func(ctx context.Context, msg envelope.Message) error
