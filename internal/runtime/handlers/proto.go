package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// ProtoHandlerOption customises a protobuf handler.
type ProtoHandlerOption func(*protoHandlerOptions)

type protoHandlerOptions struct {
	unmarshal protojson.UnmarshalOptions
	validate  func(proto.Message) error
}

// WithDiscardUnknown ignores payload fields the message type does not declare.
func WithDiscardUnknown() ProtoHandlerOption {
	return func(o *protoHandlerOptions) {
		o.unmarshal.DiscardUnknown = true
	}
}

// WithValidator runs validate on every decoded payload before the handler.
// A validation failure fails the message.
func WithValidator(validate func(proto.Message) error) ProtoHandlerOption {
	return func(o *protoHandlerOptions) {
		o.validate = validate
	}
}

// ProtoMessageContext provides strongly typed access to the incoming payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageHandler processes one protobuf payload.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) error

// BuildProtoHandler converts a typed handler into a Callback. Payloads are
// decoded with protojson. prototype may be a typed nil pointer.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], logger loggingpkg.ServiceLogger, opts ...ProtoHandlerOption) (Callback, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	prototype, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}

	var options protoHandlerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	return func(ctx context.Context, msg envelope.Message) error {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}
		if err := options.unmarshal.Unmarshal([]byte(msg.Payload), typed); err != nil {
			return fmt.Errorf("failed to unmarshal %T payload: %w", prototype, err)
		}
		if options.validate != nil {
			if err := options.validate(typed); err != nil {
				return fmt.Errorf("invalid %T payload: %w", prototype, err)
			}
		}

		return handler(ctx, ProtoMessageContext[T]{
			MessageContextBase: MessageContextBase{Message: msg, Logger: logger},
			Payload:            typed,
		})
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a freshly allocated message of
// the same type when candidate is a typed nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrConsumeMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrConsumeMessagePointerNeeded
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
