package tracing

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// handoffProcessor parks every finished span until the emitter that started
// it picks it up, so the upload runs on the caller's goroutine and its error
// reaches the caller.
type handoffProcessor struct {
	mu       sync.Mutex
	finished map[trace.SpanID]sdktrace.ReadOnlySpan
}

var _ sdktrace.SpanProcessor = (*handoffProcessor)(nil)

func newHandoffProcessor() *handoffProcessor {
	return &handoffProcessor{finished: make(map[trace.SpanID]sdktrace.ReadOnlySpan)}
}

func (p *handoffProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *handoffProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[s.SpanContext().SpanID()] = s
}

// take removes and returns the finished span with the given id.
func (p *handoffProcessor) take(id trace.SpanID) (sdktrace.ReadOnlySpan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.finished[id]
	if ok {
		delete(p.finished, id)
	}
	return s, ok
}

func (p *handoffProcessor) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finished)
}

func (p *handoffProcessor) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.finished)
	return nil
}

func (p *handoffProcessor) ForceFlush(context.Context) error { return nil }
