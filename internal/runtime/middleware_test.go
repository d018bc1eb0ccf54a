package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
)

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracerMiddleware(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	mw, err := TracerMiddleware(provider).Builder(&Service{})
	require.NoError(t, err)

	ctx := withDispatchContext(context.Background(), DispatchContext{
		ConnectorName: "jobs",
		QueueName:     "emails",
		CallbackName:  "mailer.Handle",
	})
	results := []error{nil, errors.New("boom"), errspkg.Resend(errors.New("later"))}
	for _, want := range results {
		cb := mw(func(context.Context, envelope.Message) error { return want })
		assert.Equal(t, want, cb(ctx, envelope.Message{Payload: "x", ResendCount: 2}))
	}

	spans := rec.Ended()
	require.Len(t, spans, 3)

	attrs := spanAttributes(spans[0])
	assert.Equal(t, "DispatchMessage", spans[0].Name())
	assert.Equal(t, "jobs", attrs["romeways.connector"].AsString())
	assert.Equal(t, "emails", attrs["romeways.queue"].AsString())
	assert.Equal(t, "mailer.Handle", attrs["romeways.callback"].AsString())
	assert.Equal(t, int64(2), attrs["message.resend_count"].AsInt64())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)

	assert.True(t, spanAttributes(spans[2])["message.resend_requested"].AsBool())
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
}

func TestLogMessagesMiddleware(t *testing.T) {
	logger := newRecordingLogger()
	mw, err := LogMessagesMiddleware(nil).Builder(&Service{Logger: logger})
	require.NoError(t, err)

	ctx := withDispatchContext(context.Background(), DispatchContext{ConnectorName: "jobs", QueueName: "emails"})
	called := false
	require.NoError(t, mw(func(context.Context, envelope.Message) error {
		called = true
		return nil
	})(ctx, envelope.Message{Payload: "hello"}))
	assert.True(t, called)

	entries := logger.byLevel("debug")
	require.Len(t, entries, 1)
	assert.Equal(t, "Dispatching message", entries[0].msg)
	assert.Equal(t, "hello", entries[0].fields["payload"])
	assert.Equal(t, "jobs", entries[0].fields["connector"])

	_, err = LogMessagesMiddleware(nil).Builder(&Service{})
	assert.Error(t, err)
}

func TestBuildMiddlewares(t *testing.T) {
	var order []string
	tag := func(name string) CallbackMiddleware {
		return func(next Callback) Callback {
			return func(ctx context.Context, msg envelope.Message) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}

	mws, err := buildMiddlewares(&Service{}, []MiddlewareRegistration{
		{Name: "outer", Middleware: tag("outer")},
		{Name: "skipped", Builder: func(*Service) (CallbackMiddleware, error) { return nil, nil }},
		{Name: "inner", Builder: func(*Service) (CallbackMiddleware, error) { return tag("inner"), nil }},
	})
	require.NoError(t, err)
	require.Len(t, mws, 2)

	cb := chainMiddlewares(func(context.Context, envelope.Message) error {
		order = append(order, "callback")
		return nil
	}, mws)
	require.NoError(t, cb(context.Background(), envelope.Message{}))
	assert.Equal(t, []string{"outer", "inner", "callback"}, order)
}

func TestBuildMiddlewaresErrors(t *testing.T) {
	_, err := buildMiddlewares(&Service{}, []MiddlewareRegistration{{Name: "empty"}})
	assert.EqualError(t, err, "middleware registration requires Middleware or Builder")

	_, err = buildMiddlewares(&Service{}, []MiddlewareRegistration{{
		Builder: func(*Service) (CallbackMiddleware, error) { return nil, errors.New("no tracer") },
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build middleware anonymous_middleware")
	assert.Contains(t, err.Error(), "no tracer")
}

func TestDefaultMiddlewares(t *testing.T) {
	regs := DefaultMiddlewares()
	require.Len(t, regs, 2)
	assert.Equal(t, "tracer", regs[0].Name)
	assert.Equal(t, "log_messages", regs[1].Name)
}
