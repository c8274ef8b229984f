package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/internal/runtime/record"
	"github.com/drblury/logprocessor/internal/runtime/tracing"
)

const tracedPayload = `{"zipkinSpan":{"_traceId":{"value":"abc"},"_spanId":"def","_sampled":{"value":true}}}`

type processorFixture struct {
	processor *LogProcessor
	handler   *countingHandler
	recorder  *fakeRecorder
	logger    *recordingLogger
}

func newProcessorFixture(t *testing.T, tracer Tracer) processorFixture {
	t.Helper()
	f := processorFixture{
		handler:  &countingHandler{},
		recorder: &fakeRecorder{},
		logger:   newRecordingLogger(),
	}
	p, err := NewLogProcessor(LogProcessorConfig{
		Handler:  f.handler.handle,
		Recorder: f.recorder,
		Tracer:   tracer,
		Logger:   f.logger,
	})
	require.NoError(t, err)
	f.processor = p
	return f
}

func TestNewLogProcessorValidates(t *testing.T) {
	handler := (&countingHandler{}).handle
	logger := newRecordingLogger()
	recorder := &fakeRecorder{}

	_, err := NewLogProcessor(LogProcessorConfig{Recorder: recorder, Logger: logger})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = NewLogProcessor(LogProcessorConfig{Handler: handler, Logger: logger})
	assert.ErrorIs(t, err, errspkg.ErrRecorderRequired)

	_, err = NewLogProcessor(LogProcessorConfig{Handler: handler, Recorder: recorder})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	p, err := NewLogProcessor(LogProcessorConfig{Handler: handler, Recorder: recorder, Logger: logger})
	require.NoError(t, err)
	assert.False(t, p.TracingEnabled())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", OutcomeProcessed.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "outcome(0)", Outcome(0).String())
}

func TestProcess_RecordWithoutTraceContext(t *testing.T) {
	tracer := &fakeTracer{enabled: true, runs: 1}
	f := newProcessorFixture(t, tracer)

	res := f.processor.Process(context.Background(), []byte(`{"text":"hello"}`))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.False(t, res.Traced)
	assert.NoError(t, res.Err)
	assert.Empty(t, tracer.traced())

	processed, failed, observed := f.recorder.counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, observed)

	msgs := f.handler.received()
	require.Len(t, msgs, 1)
	rec, ok := msgs[0].(record.Record)
	require.True(t, ok)
	text, _ := rec.Text("text")
	assert.Equal(t, "hello", text)
}

func TestProcess_DecodeFailures(t *testing.T) {
	payloads := map[string][]byte{
		"invalid json":  []byte("not-json"),
		"invalid utf8":  {0xff, 0xfe, '{', '}'},
		"not an object": []byte(`[1,2,3]`),
		"empty":         {},
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			tracer := &fakeTracer{enabled: true, runs: 1}
			f := newProcessorFixture(t, tracer)

			res := f.processor.Process(context.Background(), payload)

			assert.Equal(t, OutcomeFailed, res.Outcome)
			var decodeErr *errspkg.DecodeError
			require.ErrorAs(t, res.Err, &decodeErr)
			assert.Zero(t, res.HandlerDuration)
			assert.Empty(t, tracer.traced())

			processed, failed, observed := f.recorder.counts()
			assert.Equal(t, 0, processed)
			assert.Equal(t, 1, failed)
			assert.Equal(t, 0, observed)

			entry, ok := f.logger.find("error", "Failed to decode message")
			require.True(t, ok)
			assert.Equal(t, string(payload), entry.fields["payload"])
			assert.ErrorAs(t, entry.err, &decodeErr)

			msgs := f.handler.received()
			require.Len(t, msgs, 1)
			assert.ErrorAs(t, msgs[0].(error), &decodeErr)
		})
	}
}

func TestProcess_TracedRecord(t *testing.T) {
	tracer := &fakeTracer{enabled: true, runs: 1}
	f := newProcessorFixture(t, tracer)

	res := f.processor.Process(context.Background(), []byte(tracedPayload))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.True(t, res.Traced)
	assert.NoError(t, res.Err)

	calls := tracer.traced()
	require.Len(t, calls, 1)
	assert.Equal(t, record.TraceContext{TraceID: "abc", ParentSpanID: "def", Sampled: true}, calls[0])

	processed, failed, observed := f.recorder.counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, observed)
	assert.Len(t, f.handler.received(), 1)
}

func TestProcess_TracingDisabled(t *testing.T) {
	for name, tracer := range map[string]Tracer{
		"nil tracer":      nil,
		"disabled tracer": &fakeTracer{enabled: false, runs: 1},
	} {
		t.Run(name, func(t *testing.T) {
			f := newProcessorFixture(t, tracer)

			res := f.processor.Process(context.Background(), []byte(tracedPayload))

			assert.Equal(t, OutcomeProcessed, res.Outcome)
			assert.False(t, res.Traced)
			if ft, ok := tracer.(*fakeTracer); ok {
				assert.Empty(t, ft.traced())
			}
			processed, failed, _ := f.recorder.counts()
			assert.Equal(t, 1, processed)
			assert.Equal(t, 0, failed)
			assert.Len(t, f.handler.received(), 1)
		})
	}
}

func TestProcess_TracingFailureStillProcessesOnce(t *testing.T) {
	transportErr := &errspkg.TracingTransportError{Endpoint: "http://trace.local/api/v2/spans", Err: errors.New("connection refused")}

	tests := map[string]int{
		"handler ran before failure":   1,
		"handler never ran":            0,
		"tracer invoked handler twice": 2,
	}
	for name, runs := range tests {
		t.Run(name, func(t *testing.T) {
			tracer := &fakeTracer{enabled: true, runs: runs, err: transportErr}
			f := newProcessorFixture(t, tracer)

			res := f.processor.Process(context.Background(), []byte(tracedPayload))

			assert.Equal(t, OutcomeProcessed, res.Outcome)
			assert.False(t, res.Traced)
			assert.ErrorIs(t, res.Err, transportErr)
			assert.Len(t, f.handler.received(), 1)

			processed, failed, observed := f.recorder.counts()
			assert.Equal(t, 1, processed)
			assert.Equal(t, 0, failed)
			assert.Equal(t, 1, observed)

			entry, ok := f.logger.find("error", "did not send data to Zipkin")
			require.True(t, ok)
			assert.ErrorIs(t, entry.err, transportErr)
		})
	}
}

func TestProcess_MalformedTraceContext(t *testing.T) {
	tracer := &fakeTracer{enabled: true, runs: 1}
	f := newProcessorFixture(t, tracer)

	res := f.processor.Process(context.Background(), []byte(`{"zipkinSpan":{"_spanId":"def"}}`))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	var tcErr *errspkg.TraceContextError
	require.ErrorAs(t, res.Err, &tcErr)
	assert.Empty(t, tracer.traced())
	assert.Len(t, f.handler.received(), 1)

	processed, failed, _ := f.recorder.counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
}

func TestProcess_RepeatedDeliveriesCountIndependently(t *testing.T) {
	f := newProcessorFixture(t, &fakeTracer{enabled: true, runs: 1})

	for i := 0; i < 2; i++ {
		f.processor.Process(context.Background(), []byte(`{"text":"same"}`))
		f.processor.Process(context.Background(), []byte(`oops`))
	}

	processed, failed, _ := f.recorder.counts()
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, failed)
}

type zipkinStub struct {
	mu           sync.Mutex
	paths        []string
	contentTypes []string
}

func newZipkinStub(t *testing.T, status int) (*zipkinStub, *httptest.Server) {
	t.Helper()
	stub := &zipkinStub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.paths = append(stub.paths, r.URL.Path)
		stub.contentTypes = append(stub.contentTypes, r.Header.Get("Content-Type"))
		stub.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (z *zipkinStub) requests() ([]string, []string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]string(nil), z.paths...), append([]string(nil), z.contentTypes...)
}

func newEmitterFor(t *testing.T, baseURL string) *tracing.Emitter {
	t.Helper()
	emitter, err := tracing.NewEmitter(tracing.Options{
		Endpoint:    baseURL + "/api/v2/spans",
		ServiceName: "log-message-processor",
		Timeout:     2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = emitter.Shutdown(context.Background()) })
	return emitter
}

func TestProcess_EmitsOneSpanPerTracedMessage(t *testing.T) {
	stub, srv := newZipkinStub(t, http.StatusAccepted)
	f := newProcessorFixture(t, newEmitterFor(t, srv.URL))

	var handlerSpan trace.SpanContext
	f.processor.handler = func(ctx context.Context, msg any) {
		handlerSpan = trace.SpanContextFromContext(ctx)
		f.handler.handle(ctx, msg)
	}

	res := f.processor.Process(context.Background(), []byte(tracedPayload))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.True(t, res.Traced)
	require.NoError(t, res.Err)

	paths, contentTypes := stub.requests()
	assert.Equal(t, []string{"/api/v2/spans"}, paths)
	assert.Equal(t, []string{"application/x-thrift"}, contentTypes)

	require.True(t, handlerSpan.IsValid())
	assert.Equal(t, "00000000000000000000000000000abc", handlerSpan.TraceID().String())

	processed, failed, _ := f.recorder.counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
}

func TestProcess_CollectorErrorStillCountsProcessed(t *testing.T) {
	stub, srv := newZipkinStub(t, http.StatusInternalServerError)
	f := newProcessorFixture(t, newEmitterFor(t, srv.URL))

	res := f.processor.Process(context.Background(), []byte(tracedPayload))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	var transportErr *errspkg.TracingTransportError
	require.ErrorAs(t, res.Err, &transportErr)

	paths, _ := stub.requests()
	assert.Len(t, paths, 1)
	assert.Len(t, f.handler.received(), 1)

	processed, failed, _ := f.recorder.counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
}

func TestProcess_NoCollectorCallWhenTracingUnset(t *testing.T) {
	stub, _ := newZipkinStub(t, http.StatusAccepted)
	emitter, err := tracing.NewEmitter(tracing.Options{})
	require.NoError(t, err)
	f := newProcessorFixture(t, emitter)

	res := f.processor.Process(context.Background(), []byte(tracedPayload))

	assert.Equal(t, OutcomeProcessed, res.Outcome)
	paths, _ := stub.requests()
	assert.Empty(t, paths)
}

func TestDelayedLogHandler(t *testing.T) {
	t.Run("logs record content and known fields", func(t *testing.T) {
		logger := newRecordingLogger()
		handler := DelayedLogHandler(logger, 0)

		rec, err := record.Decode([]byte(`{"text":"hello","opName":"CREATE","username":"johnd","todoId":7}`))
		require.NoError(t, err)
		handler(context.Background(), rec)

		entries := logger.all()
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].msg, "message received after waiting for 0ms")
		assert.Contains(t, entries[0].msg, "hello")
		assert.Equal(t, int64(0), entries[0].fields["delay_ms"])
		assert.Equal(t, "CREATE", entries[0].fields["opName"])
		assert.Equal(t, "johnd", entries[0].fields["username"])
		assert.Equal(t, "7", entries[0].fields["todoId"])
		assert.NotContains(t, entries[0].fields, "trace_id")
	})

	t.Run("logs decode errors", func(t *testing.T) {
		logger := newRecordingLogger()
		handler := DelayedLogHandler(logger, 0)

		_, err := record.Decode([]byte("not-json"))
		require.Error(t, err)
		handler(context.Background(), err)

		entries := logger.all()
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].msg, err.Error())
	})

	t.Run("sleeps below the bound", func(t *testing.T) {
		logger := newRecordingLogger()
		handler := DelayedLogHandler(logger, 20*time.Millisecond)

		for i := 0; i < 5; i++ {
			handler(context.Background(), record.Record{"text": "x"})
		}

		for _, e := range logger.all() {
			delay, ok := e.fields["delay_ms"].(int64)
			require.True(t, ok)
			assert.GreaterOrEqual(t, delay, int64(0))
			assert.Less(t, delay, int64(20))
		}
	})

	t.Run("adds span identifiers", func(t *testing.T) {
		logger := newRecordingLogger()
		handler := DelayedLogHandler(logger, 0)

		sc, err := tracing.RemoteParent(record.TraceContext{TraceID: "abc", ParentSpanID: "def", Sampled: true})
		require.NoError(t, err)
		handler(trace.ContextWithSpanContext(context.Background(), sc), record.Record{"text": "x"})

		entries := logger.all()
		require.Len(t, entries, 1)
		assert.Equal(t, "00000000000000000000000000000abc", entries[0].fields["trace_id"])
		assert.Equal(t, "0000000000000def", entries[0].fields["span_id"])
	})

	t.Run("adds correlation id", func(t *testing.T) {
		logger := newRecordingLogger()
		handler := DelayedLogHandler(logger, 0)

		handler(ContextWithCorrelationID(context.Background(), "01HZX"), record.Record{"text": "x"})

		entries := logger.all()
		require.Len(t, entries, 1)
		assert.Equal(t, "01HZX", entries[0].fields[MetadataCorrelationID])
	})
}
