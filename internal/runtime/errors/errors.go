package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired   = sterrors.New("logprocessor: service is required")
	ErrConfigRequired    = sterrors.New("logprocessor: config is required")
	ErrLoggerRequired    = sterrors.New("logprocessor: logger is required")
	ErrHandlerRequired   = sterrors.New("logprocessor: message handler is required")
	ErrRecorderRequired  = sterrors.New("logprocessor: metrics recorder is required")
	ErrProcessorRequired = sterrors.New("logprocessor: log processor is required")
	ErrChannelRequired   = sterrors.New("logprocessor: channel is required")
	ErrPublisherRequired = sterrors.New("logprocessor: publisher is required")
	ErrPublisherClosed   = sterrors.New("logprocessor: publisher is closed")
	ErrSubscriberClosed  = sterrors.New("logprocessor: subscriber is closed")

	ErrInvalidUTF8 = sterrors.New("payload is not valid UTF-8")
	ErrNotObject   = sterrors.New("payload is not a JSON object")
)

// DecodeError reports a payload that could not be turned into a record.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TraceContextError reports a zipkinSpan field that exists but cannot be used.
type TraceContextError struct {
	Field string
	Err   error
}

func (e *TraceContextError) Error() string {
	return fmt.Sprintf("trace context field %q: %v", e.Field, e.Err)
}

func (e *TraceContextError) Unwrap() error { return e.Err }

// TracingTransportError covers any failure to build or deliver a span. It never
// changes how the message itself is accounted.
type TracingTransportError struct {
	Endpoint string
	Err      error
}

func (e *TracingTransportError) Error() string {
	if e.Endpoint == "" {
		return "tracing: " + e.Err.Error()
	}
	return fmt.Sprintf("tracing: send to %s: %v", e.Endpoint, e.Err)
}

func (e *TracingTransportError) Unwrap() error { return e.Err }

// SubscriberConnectionError is fatal: the consumer stops and the process exits.
type SubscriberConnectionError struct {
	Channel string
	Err     error
}

func (e *SubscriberConnectionError) Error() string {
	return fmt.Sprintf("subscriber connection lost on channel %q: %v", e.Channel, e.Err)
}

func (e *SubscriberConnectionError) Unwrap() error { return e.Err }
