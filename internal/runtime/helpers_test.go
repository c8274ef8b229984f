package runtime

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	loggingpkg "github.com/drblury/logprocessor/internal/runtime/logging"
	"github.com/drblury/logprocessor/internal/runtime/record"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

// recordingLogger keeps every entry, children included, in one sink.
type recordingLogger struct {
	sink   *logSink
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{sink: r.sink, fields: merged}
}

func (r *recordingLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = append(r.sink.entries, logEntry{level: level, msg: msg, err: err, fields: fields})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.add("debug", msg, nil, fields)
}
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.add("info", msg, nil, fields)
}
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.add("trace", msg, nil, fields)
}
func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, err, fields)
}

func (r *recordingLogger) all() []logEntry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	return append([]logEntry(nil), r.sink.entries...)
}

func (r *recordingLogger) find(level, contains string) (logEntry, bool) {
	for _, e := range r.all() {
		if e.level == level && strings.Contains(e.msg, contains) {
			return e, true
		}
	}
	return logEntry{}, false
}

type fakeRecorder struct {
	mu        sync.Mutex
	processed int
	failed    int
	durations []time.Duration
}

func (f *fakeRecorder) IncProcessed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed++
}

func (f *fakeRecorder) IncFailed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
}

func (f *fakeRecorder) ObserveDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations = append(f.durations, d)
}

func (f *fakeRecorder) counts() (processed, failed, observed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed, f.failed, len(f.durations)
}

// fakeTracer runs fn as many times as runs says, then returns err.
type fakeTracer struct {
	enabled bool
	err     error
	runs    int

	mu    sync.Mutex
	calls []record.TraceContext
}

func (f *fakeTracer) Enabled() bool { return f.enabled }

func (f *fakeTracer) Trace(ctx context.Context, tc record.TraceContext, fn func(context.Context)) error {
	f.mu.Lock()
	f.calls = append(f.calls, tc)
	f.mu.Unlock()
	for i := 0; i < f.runs; i++ {
		fn(ctx)
	}
	return f.err
}

func (f *fakeTracer) traced() []record.TraceContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.TraceContext(nil), f.calls...)
}

// countingHandler records every message it is called with.
type countingHandler struct {
	mu   sync.Mutex
	msgs []any
}

func (h *countingHandler) handle(_ context.Context, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *countingHandler) received() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.msgs...)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
