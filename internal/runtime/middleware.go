package runtime

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

const tracerName = "romeways-dispatch-tracer"

// CallbackMiddleware wraps a callback. Dispatch information is available
// through DispatchContextFrom on the callback context.
type CallbackMiddleware func(next Callback) Callback

// MiddlewareBuilder constructs a middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (CallbackMiddleware, error)

// MiddlewareRegistration captures how a middleware should be added to the
// dispatch chain of a Service.
type MiddlewareRegistration struct {
	Name       string
	Middleware CallbackMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by NewService.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TracerMiddleware(nil),
		LogMessagesMiddleware(nil),
	}
}

// TracerMiddleware wraps callback execution in an OpenTelemetry span. A nil
// provider uses the global one.
func TracerMiddleware(provider trace.TracerProvider) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (CallbackMiddleware, error) {
			p := provider
			if p == nil {
				p = otel.GetTracerProvider()
			}
			return tracerMiddleware(p.Tracer(tracerName)), nil
		},
	}
}

// LogMessagesMiddleware logs every dispatched payload at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (CallbackMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

func tracerMiddleware(tracer trace.Tracer) CallbackMiddleware {
	return func(next Callback) Callback {
		return func(ctx context.Context, msg envelope.Message) error {
			ctx, span := tracer.Start(ctx, "DispatchMessage", trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()

			attrs := []attribute.KeyValue{attribute.Int("message.resend_count", msg.ResendCount)}
			if dc, ok := DispatchContextFrom(ctx); ok {
				attrs = append(attrs,
					attribute.String("romeways.connector", dc.ConnectorName),
					attribute.String("romeways.queue", dc.QueueName),
					attribute.String("romeways.callback", dc.CallbackName),
				)
			}
			span.SetAttributes(attrs...)

			err := next(ctx, msg)
			switch {
			case err == nil:
				span.SetStatus(codes.Ok, "")
			case errspkg.IsResend(err):
				span.SetAttributes(attribute.Bool("message.resend_requested", true))
				span.RecordError(err)
			default:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) CallbackMiddleware {
	return func(next Callback) Callback {
		return func(ctx context.Context, msg envelope.Message) error {
			fields := loggingpkg.LogFields{
				"payload":      msg.Payload,
				"resend_count": msg.ResendCount,
			}
			if dc, ok := DispatchContextFrom(ctx); ok {
				fields["connector"] = dc.ConnectorName
				fields["queue"] = dc.QueueName
			}
			logger.Debug("Dispatching message", fields)
			return next(ctx, msg)
		}
	}
}

// buildMiddlewares resolves registrations in order. A builder may return a nil
// middleware to opt out.
func buildMiddlewares(s *Service, registrations []MiddlewareRegistration) ([]CallbackMiddleware, error) {
	out := make([]CallbackMiddleware, 0, len(registrations))
	for _, reg := range registrations {
		var mw CallbackMiddleware
		switch {
		case reg.Middleware != nil:
			mw = reg.Middleware
		case reg.Builder != nil:
			var err error
			mw, err = reg.Builder(s)
			if err != nil {
				name := reg.Name
				if name == "" {
					name = "anonymous_middleware"
				}
				return nil, errors.Join(errors.New("failed to build middleware "+name), err)
			}
		default:
			return nil, errors.New("middleware registration requires Middleware or Builder")
		}
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out, nil
}

// chainMiddlewares applies middlewares so the first one is the outermost.
func chainMiddlewares(cb Callback, middlewares []CallbackMiddleware) Callback {
	for i := len(middlewares) - 1; i >= 0; i-- {
		cb = middlewares[i](cb)
	}
	return cb
}
