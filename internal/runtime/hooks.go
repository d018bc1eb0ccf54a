package runtime

import (
	"context"
	"time"

	"github.com/drblury/romeways/internal/runtime/envelope"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// DispatchContext provides information about one callback invocation to hooks
// and middlewares.
type DispatchContext struct {
	// ConnectorName is the connector the message was pulled from.
	ConnectorName string
	// QueueName is the queue the message was pulled from.
	QueueName string
	// CallbackName is the resolved function name of the callback.
	CallbackName string
	// Message is the decoded message. In OnResend it carries the incremented
	// resend count.
	Message envelope.Message
	// Context is the context the callback receives.
	Context context.Context
	// StartedAt is when the dispatch started.
	StartedAt time.Time
	// Duration is how long the callback took (only set in OnDispatchDone,
	// OnDispatchError and OnResend).
	Duration time.Duration
}

type dispatchContextKey struct{}

func withDispatchContext(ctx context.Context, dc DispatchContext) context.Context {
	return context.WithValue(ctx, dispatchContextKey{}, dc)
}

// DispatchContextFrom returns the dispatch information attached to the context
// a callback receives.
func DispatchContextFrom(ctx context.Context) (DispatchContext, bool) {
	dc, ok := ctx.Value(dispatchContextKey{}).(DispatchContext)
	return dc, ok
}

// DispatchHooks defines callbacks for dispatch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatchStart is called before the callback is invoked.
	OnDispatchStart func(ctx DispatchContext)

	// OnDispatchDone is called when the callback returned nil.
	OnDispatchDone func(ctx DispatchContext)

	// OnDispatchError is called when the callback returned an error or
	// panicked, including resend requests.
	OnDispatchError func(ctx DispatchContext, err error)

	// OnResend is called after a message was pushed back to its queue.
	OnResend func(ctx DispatchContext)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
		OnResend:        chainHooks(h.OnResend, other.OnResend),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DispatchHooks) start(dc DispatchContext) {
	if h.OnDispatchStart != nil {
		h.OnDispatchStart(dc)
	}
}

func (h DispatchHooks) done(dc DispatchContext) {
	if h.OnDispatchDone != nil {
		h.OnDispatchDone(dc)
	}
}

func (h DispatchHooks) fail(dc DispatchContext, err error) {
	if h.OnDispatchError != nil {
		h.OnDispatchError(dc, err)
	}
}

func (h DispatchHooks) resend(dc DispatchContext) {
	if h.OnResend != nil {
		h.OnResend(dc)
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	fields := func(ctx DispatchContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"connector":    ctx.ConnectorName,
			"queue":        ctx.QueueName,
			"callback":     ctx.CallbackName,
			"resend_count": ctx.Message.ResendCount,
		}
	}
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			logger.Info("Dispatch started", fields(ctx))
		},
		OnDispatchDone: func(ctx DispatchContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Dispatch completed", f)
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Dispatch failed", err, f)
		},
		OnResend: func(ctx DispatchContext) {
			logger.Info("Message resent", fields(ctx))
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch errors.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
