package romeways

import (
	"google.golang.org/protobuf/proto"

	"github.com/drblury/romeways/connector"
	runtimepkg "github.com/drblury/romeways/internal/runtime"
	configpkg "github.com/drblury/romeways/internal/runtime/config"
	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	handlerpkg "github.com/drblury/romeways/internal/runtime/handlers"
	idspkg "github.com/drblury/romeways/internal/runtime/ids"
	jsoncodec "github.com/drblury/romeways/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Registry            = runtimepkg.Registry
	Callback            = runtimepkg.Callback
	Itinerary           = runtimepkg.Itinerary
	RegionMap           = runtimepkg.RegionMap
	WorkerCommand       = runtimepkg.WorkerCommand
	Message             = envelope.Message

	// Connector contract
	Connector         = connector.Connector
	ConnectorType     = connector.Type
	ConnectorFactory  = connector.Factory
	ConnectorConfig   = connector.Config
	ConnectorSettings = connector.Settings
	QueueConfig       = connector.QueueConfig
	QueueSettings     = connector.QueueSettings
	Capabilities      = connector.Capabilities
	Catalog           = connector.Catalog

	// Typed handlers
	MessageContextBase                   = handlerpkg.MessageContextBase
	JSONMessageContext[T any]            = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any]            = handlerpkg.JSONMessageHandler[T]
	ProtoMessageContext[T proto.Message] = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message] = handlerpkg.ProtoMessageHandler[T]
	ProtoHandlerOption                   = handlerpkg.ProtoHandlerOption

	CallbackMiddleware     = runtimepkg.CallbackMiddleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Dispatch lifecycle hooks
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	DispatchMetrics        = runtimepkg.DispatchMetrics
	ItineraryStats         = runtimepkg.ItineraryStats
	ItineraryStatsSnapshot = runtimepkg.ItineraryStatsSnapshot
	RouteStatus            = runtimepkg.RouteStatus
	QueueStatus            = runtimepkg.QueueStatus

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	ConfigTypeError       = errspkg.ConfigTypeError
	CallbackTypeError     = errspkg.CallbackTypeError
	ConnectorTypeError    = errspkg.ConnectorTypeError
	ResendError           = errspkg.ResendError
	PanicError            = errspkg.PanicError
)

// WorkerEnvKey names the environment variable that turns a process into the
// isolated worker of one connector.
const WorkerEnvKey = runtimepkg.WorkerEnvKey

var (
	NewRegistry          = runtimepkg.NewRegistry
	NewService           = runtimepkg.NewService
	NewDispatchMetrics   = runtimepkg.NewDispatchMetrics
	DefaultWorkerCommand = runtimepkg.DefaultWorkerCommand
	IsWorkerProcess      = runtimepkg.IsWorkerProcess
	WorkerConnector      = runtimepkg.WorkerConnector
	ValidateConfig       = configpkg.ValidateConfig
	LoadConfig           = configpkg.Load

	DefaultMiddlewares    = runtimepkg.DefaultMiddlewares
	TracerMiddleware      = runtimepkg.TracerMiddleware
	LogMessagesMiddleware = runtimepkg.LogMessagesMiddleware

	LoggingHooks        = runtimepkg.LoggingHooks
	AlertingHooks       = runtimepkg.AlertingHooks
	DispatchContextFrom = runtimepkg.DispatchContextFrom

	DefaultCatalog = connector.DefaultCatalog
	RegisterType   = connector.Register
	LookupType     = connector.Lookup
	DecodeMessage  = envelope.Decode
	EncodeMessage  = envelope.Encode

	WithDiscardUnknown = handlerpkg.WithDiscardUnknown
	WithValidator      = handlerpkg.WithValidator

	Resend   = errspkg.Resend
	IsResend = errspkg.IsResend

	ErrResend                      = errspkg.ErrResend
	ErrRegistryRequired            = errspkg.ErrRegistryRequired
	ErrRegistryFrozen              = errspkg.ErrRegistryFrozen
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrUnknownConnector            = errspkg.ErrUnknownConnector
	ErrServiceStarted              = errspkg.ErrServiceStarted
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrConnectorNotReady           = connector.ErrConnectorNotReady
	ErrUnknownType                 = connector.ErrUnknownType

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	ParseLogLevel             = loggingpkg.ParseLevel
	NopLogger                 = loggingpkg.Nop

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewID = idspkg.New
)

// BuildJSONHandler converts a typed JSON handler into a Callback.
func BuildJSONHandler[T any](handler JSONMessageHandler[T], logger ServiceLogger) (Callback, error) {
	return handlerpkg.BuildJSONHandler(handler, logger)
}

// BuildProtoHandler converts a typed protobuf handler into a Callback.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], logger ServiceLogger, opts ...ProtoHandlerOption) (Callback, error) {
	return handlerpkg.BuildProtoHandler(prototype, handler, logger, opts...)
}

// RegisterJSONRoute registers a typed JSON handler for a queue.
func RegisterJSONRoute[T any](reg *Registry, queueName string, settings QueueSettings, handler JSONMessageHandler[T], logger ServiceLogger) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	cb, err := handlerpkg.BuildJSONHandler(handler, logger)
	if err != nil {
		return err
	}
	return reg.RegisterRoute(queueName, settings, cb)
}

// RegisterProtoRoute registers a typed protobuf handler for a queue.
func RegisterProtoRoute[T proto.Message](reg *Registry, queueName string, settings QueueSettings, prototype T, handler ProtoMessageHandler[T], logger ServiceLogger, opts ...ProtoHandlerOption) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	cb, err := handlerpkg.BuildProtoHandler(prototype, handler, logger, opts...)
	if err != nil {
		return err
	}
	return reg.RegisterRoute(queueName, settings, cb)
}
