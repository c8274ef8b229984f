package runtime

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	loggingpkg "github.com/drblury/logprocessor/internal/runtime/logging"
	"github.com/drblury/logprocessor/internal/runtime/record"
)

// Outcome is the terminal state of one loop iteration. Every delivery ends in
// exactly one of them.
type Outcome int

const (
	OutcomeProcessed Outcome = iota + 1
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes how a delivery was handled.
type Result struct {
	Outcome Outcome
	// Traced is true when a span was delivered for this message.
	Traced bool
	// Err is the decode error for failed deliveries, or the tracing error for
	// processed deliveries whose span could not be sent.
	Err error
	// HandlerDuration is the time spent in the message handler. It is zero
	// for failed deliveries.
	HandlerDuration time.Duration
}

// MessageHandler is the per-message business action. msg is a record.Record,
// or the decode error when the payload could not be decoded.
type MessageHandler func(ctx context.Context, msg any)

// Tracer wraps one handler call in a span.
type Tracer interface {
	Enabled() bool
	Trace(ctx context.Context, tc record.TraceContext, fn func(context.Context)) error
}

// Recorder receives the outcome counters and handler durations.
type Recorder interface {
	IncProcessed()
	IncFailed()
	ObserveDuration(time.Duration)
}

// LogProcessorConfig groups the collaborators of a LogProcessor. Tracer may
// be nil, which disables tracing.
type LogProcessorConfig struct {
	Handler  MessageHandler
	Recorder Recorder
	Tracer   Tracer
	Logger   loggingpkg.ServiceLogger
}

// LogProcessor runs the decode, trace, handle and record sequence for one
// delivery.
type LogProcessor struct {
	handler  MessageHandler
	recorder Recorder
	tracer   Tracer
	logger   loggingpkg.ServiceLogger
}

// NewLogProcessor validates the collaborators and builds a LogProcessor.
func NewLogProcessor(cfg LogProcessorConfig) (*LogProcessor, error) {
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if cfg.Recorder == nil {
		return nil, errspkg.ErrRecorderRequired
	}
	if cfg.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &LogProcessor{
		handler:  cfg.Handler,
		recorder: cfg.Recorder,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}, nil
}

// TracingEnabled reports whether spans may be emitted.
func (p *LogProcessor) TracingEnabled() bool {
	return p.tracer != nil && p.tracer.Enabled()
}

// Process handles one raw payload and records its outcome.
//
// Undecodable payloads count as failed and never reach the tracer. Decoded
// records always count as processed; tracing problems, including a malformed
// zipkinSpan, are logged and the handler still runs exactly once.
func (p *LogProcessor) Process(ctx context.Context, payload []byte) Result {
	rec, err := record.Decode(payload)
	if err != nil {
		p.logger.Error("Failed to decode message", err, loggingpkg.LogFields{
			"payload": string(payload),
		})
		p.handler(ctx, err)
		p.recorder.IncFailed()
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	tc, present, tcErr := rec.TraceContext()
	if !present || !p.TracingEnabled() {
		d := p.handle(ctx, rec)
		p.recorder.IncProcessed()
		return Result{Outcome: OutcomeProcessed, HandlerDuration: d}
	}

	var (
		ran bool
		d   time.Duration
	)
	run := func(ctx context.Context) {
		if ran {
			return
		}
		ran = true
		d = p.handle(ctx, rec)
	}

	traceErr := tcErr
	if traceErr == nil {
		traceErr = p.tracer.Trace(ctx, tc, run)
	}
	if traceErr != nil {
		p.logger.Error("did not send data to Zipkin", traceErr, loggingpkg.LogFields{
			"trace_id": tc.TraceID,
			"span_id":  tc.ParentSpanID,
		})
	}
	run(ctx)

	p.recorder.IncProcessed()
	return Result{
		Outcome:         OutcomeProcessed,
		Traced:          traceErr == nil,
		Err:             traceErr,
		HandlerDuration: d,
	}
}

func (p *LogProcessor) handle(ctx context.Context, rec record.Record) time.Duration {
	start := time.Now()
	p.handler(ctx, rec)
	d := time.Since(start)
	p.recorder.ObserveDuration(d)
	return d
}

// Fields copied from a record into the handler log line.
var handlerLogFields = []string{"opName", "username", "todoId"}

// DelayedLogHandler returns a handler that sleeps a random duration in
// [0, maxDelay) and then logs the message. A maxDelay below one millisecond
// disables the sleep.
func DelayedLogHandler(logger loggingpkg.ServiceLogger, maxDelay time.Duration) MessageHandler {
	maxMillis := maxDelay.Milliseconds()
	return func(ctx context.Context, msg any) {
		var delayMillis int64
		if maxMillis > 0 {
			delayMillis = rand.N(maxMillis)
			time.Sleep(time.Duration(delayMillis) * time.Millisecond)
		}

		content := describeMessage(msg)
		fields := loggingpkg.LogFields{
			"delay_ms": delayMillis,
			"message":  content,
		}
		if rec, ok := msg.(record.Record); ok {
			for _, key := range handlerLogFields {
				if v, ok := rec.Text(key); ok {
					fields[key] = v
				}
			}
		}
		if id, ok := CorrelationIDFromContext(ctx); ok {
			fields[MetadataCorrelationID] = id
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}

		logger.Info(fmt.Sprintf("message received after waiting for %dms: %s", delayMillis, content), fields)
	}
}

func describeMessage(msg any) string {
	switch m := msg.(type) {
	case record.Record:
		return m.String()
	case error:
		return m.Error()
	case fmt.Stringer:
		return m.String()
	default:
		return fmt.Sprint(m)
	}
}
