package logprocessor

import (
	runtimepkg "github.com/drblury/logprocessor/internal/runtime"
	configpkg "github.com/drblury/logprocessor/internal/runtime/config"
	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	idspkg "github.com/drblury/logprocessor/internal/runtime/ids"
	jsoncodec "github.com/drblury/logprocessor/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/logprocessor/internal/runtime/logging"
	metricspkg "github.com/drblury/logprocessor/internal/runtime/metrics"
	recordpkg "github.com/drblury/logprocessor/internal/runtime/record"
	tracingpkg "github.com/drblury/logprocessor/internal/runtime/tracing"
	transportpkg "github.com/drblury/logprocessor/internal/runtime/transport"
	newtransport "github.com/drblury/logprocessor/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc
	FatalSubscriber      = runtimepkg.FatalSubscriber

	LogProcessor             = runtimepkg.LogProcessor
	LogProcessorConfig       = runtimepkg.LogProcessorConfig
	LogProcessorRegistration = runtimepkg.LogProcessorRegistration
	MessageHandler           = runtimepkg.MessageHandler
	Tracer                   = runtimepkg.Tracer
	Result                   = runtimepkg.Result
	Outcome                  = runtimepkg.Outcome

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Record       = recordpkg.Record
	TraceContext = recordpkg.TraceContext

	Emitter        = tracingpkg.Emitter
	EmitterOptions = tracingpkg.Options

	Recorder         = metricspkg.Recorder
	RecorderSnapshot = metricspkg.Snapshot

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Status       = runtimepkg.Status
	HandlerInfo  = runtimepkg.HandlerInfo
	HandlerStats = runtimepkg.HandlerStats

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Error types
	DecodeError               = errspkg.DecodeError
	TraceContextError         = errspkg.TraceContextError
	TracingTransportError     = errspkg.TracingTransportError
	SubscriberConnectionError = errspkg.SubscriberConnectionError

	// Transport capabilities
	Capabilities = transportpkg.Capabilities

	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

const (
	OutcomeProcessed = runtimepkg.OutcomeProcessed
	OutcomeFailed    = runtimepkg.OutcomeFailed

	SpanName              = tracingpkg.SpanName
	TraceContextField     = recordpkg.TraceContextField
	MetadataCorrelationID = runtimepkg.MetadataCorrelationID
	StatusPath            = runtimepkg.StatusPath
)

var (
	LoadConfig    = configpkg.Load
	ConfigFromEnv = configpkg.FromEnv

	NewService    = runtimepkg.NewService
	TryNewService = runtimepkg.TryNewService

	NewLogProcessor      = runtimepkg.NewLogProcessor
	RegisterLogProcessor = runtimepkg.RegisterLogProcessor
	DelayedLogHandler    = runtimepkg.DelayedLogHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	RouterMetricsMiddleware = runtimepkg.RouterMetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	NewRecordMessage = runtimepkg.NewRecordMessage
	PublishRecord    = runtimepkg.PublishRecord
	DecodeRecord     = recordpkg.Decode

	NewEmitter  = tracingpkg.NewEmitter
	NewRecorder = metricspkg.NewRecorder

	GetCapabilities = transportpkg.GetCapabilities

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewCorrelationID = idspkg.NewCorrelationID

	ErrServiceRequired   = errspkg.ErrServiceRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrRecorderRequired  = errspkg.ErrRecorderRequired
	ErrProcessorRequired = errspkg.ErrProcessorRequired
	ErrChannelRequired   = errspkg.ErrChannelRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrPublisherClosed   = errspkg.ErrPublisherClosed
	ErrSubscriberClosed  = errspkg.ErrSubscriberClosed
	ErrUnknownTransport  = newtransport.ErrUnknownTransport

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	DiscardLogger             = loggingpkg.Discard
)
