package handlers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	jsoncodec "github.com/drblury/romeways/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// JSONMessageContext exposes the decoded payload of a JSON handler.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageHandler processes one JSON payload.
type JSONMessageHandler[T any] func(ctx context.Context, event JSONMessageContext[T]) error

// BuildJSONHandler converts a typed JSON handler into a Callback. T must be a
// pointer type; a fresh value is allocated for every message. A payload that
// does not unmarshal into T fails the message without calling the handler.
func BuildJSONHandler[T any](handler JSONMessageHandler[T], logger loggingpkg.ServiceLogger) (Callback, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, msg envelope.Message) error {
		typed := prototypeFactory()

		if err := jsoncodec.Unmarshal([]byte(msg.Payload), typed); err != nil {
			return fmt.Errorf("failed to unmarshal JSON payload into %T: %w", typed, err)
		}

		return handler(ctx, JSONMessageContext[T]{
			MessageContextBase: MessageContextBase{Message: msg, Logger: logger},
			Payload:            typed,
		})
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}
