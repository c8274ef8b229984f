package tracing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	perrors "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/internal/runtime/logging"
	"github.com/drblury/logprocessor/internal/runtime/record"
)

// SpanName is the operation name of every processing span.
const SpanName = "save_log"

const instrumentationName = "github.com/drblury/logprocessor/tracing"

var errSpanNotFinished = errors.New("span was not handed to the exporter")

// Options configures an Emitter.
type Options struct {
	// Endpoint is the full span ingestion URL. Empty disables tracing.
	Endpoint string
	// ServiceName is reported as the local endpoint of every span.
	ServiceName string
	// Encoding selects the wire format: "thrift" (default), "json" or "proto".
	Encoding string
	// Timeout bounds one upload. Zero means no bound.
	Timeout time.Duration
	// Client overrides the HTTP client used for uploads.
	Client *http.Client
	Logger logging.ServiceLogger
}

// Emitter wraps the processing of one message in a span attached to the
// publisher's trace and ships the span when processing ends.
type Emitter struct {
	endpoint string
	timeout  time.Duration
	logger   logging.ServiceLogger

	provider  *sdktrace.TracerProvider
	tracer    trace.Tracer
	processor *handoffProcessor
	exporter  *HTTPExporter
}

// NewEmitter builds an Emitter. With an empty endpoint the returned emitter
// is disabled and Trace only runs the wrapped function.
func NewEmitter(opts Options) (*Emitter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Emitter{endpoint: opts.Endpoint, timeout: opts.Timeout, logger: logger}
	if opts.Endpoint == "" {
		return e, nil
	}
	if opts.Timeout < 0 {
		return nil, errors.New("tracing: timeout cannot be negative")
	}

	serializer, err := NewSerializer(opts.Encoding)
	if err != nil {
		return nil, err
	}

	e.exporter = NewHTTPExporter(opts.Endpoint, opts.ServiceName, serializer, opts.Client)
	e.processor = newHandoffProcessor()
	e.provider = sdktrace.NewTracerProvider(
		// Sampling was decided upstream; every span that reaches us is kept.
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(serviceNameKey.String(opts.ServiceName))),
		sdktrace.WithSpanProcessor(e.processor),
	)
	e.tracer = e.provider.Tracer(instrumentationName)

	return e, nil
}

// Enabled reports whether spans are emitted.
func (e *Emitter) Enabled() bool {
	return e != nil && e.tracer != nil
}

// Trace runs fn exactly once, inside a span named save_log whose parent is
// the upstream span described by tc. It returns a *errors.TraceContextError
// when tc cannot be used and a *errors.TracingTransportError when the span
// could not be delivered. In both cases fn has already run.
func (e *Emitter) Trace(ctx context.Context, tc record.TraceContext, fn func(context.Context)) error {
	if !e.Enabled() {
		fn(ctx)
		return nil
	}

	parent, err := RemoteParent(tc)
	if err != nil {
		fn(ctx)
		return err
	}

	spanCtx, span := e.tracer.Start(
		trace.ContextWithRemoteSpanContext(ctx, parent),
		SpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Bool("upstream.sampled", tc.Sampled)),
	)
	fn(spanCtx)
	span.End()

	sc := span.SpanContext()
	finished, ok := e.processor.take(sc.SpanID())
	if !ok {
		return &perrors.TracingTransportError{Endpoint: e.endpoint, Err: errSpanNotFinished}
	}

	exportCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.exporter.ExportSpans(exportCtx, []sdktrace.ReadOnlySpan{finished}); err != nil {
		return err
	}

	e.logger.Debug("Span sent", logging.LogFields{
		"trace_id":  sc.TraceID().String(),
		"span_id":   sc.SpanID().String(),
		"parent_id": parent.SpanID().String(),
	})
	return nil
}

// Shutdown releases the tracer provider. Later Trace calls still run their
// function but fail to deliver the span.
func (e *Emitter) Shutdown(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	return errors.Join(e.exporter.Shutdown(ctx), e.provider.Shutdown(ctx))
}
