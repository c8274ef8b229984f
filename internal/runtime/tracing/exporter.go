package tracing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	perrors "github.com/drblury/logprocessor/internal/runtime/errors"
)

var errExporterStopped = errors.New("exporter is shut down")

// HTTPExporter posts finished spans to a Zipkin compatible ingestion
// endpoint, one request per export call.
type HTTPExporter struct {
	endpoint    string
	serviceName string
	serializer  reporter.SpanSerializer
	client      *http.Client
	stopped     atomic.Bool
}

var _ sdktrace.SpanExporter = (*HTTPExporter)(nil)

// NewHTTPExporter builds an exporter. A nil client falls back to
// http.DefaultClient.
func NewHTTPExporter(endpoint, serviceName string, serializer reporter.SpanSerializer, client *http.Client) *HTTPExporter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExporter{
		endpoint:    endpoint,
		serviceName: serviceName,
		serializer:  serializer,
		client:      client,
	}
}

// ExportSpans serializes the spans and sends them in a single POST. Any
// failure is returned as a *errors.TracingTransportError.
func (e *HTTPExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	if e.stopped.Load() {
		return e.fail(errExporterStopped)
	}

	models := make([]*model.SpanModel, 0, len(spans))
	for _, s := range spans {
		models = append(models, toSpanModel(s, e.serviceName))
	}

	body, err := e.serializer.Serialize(models)
	if err != nil {
		return e.fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return e.fail(err)
	}
	req.Header.Set("Content-Type", e.serializer.ContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return e.fail(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return e.fail(fmt.Errorf("unexpected response status %s", resp.Status))
	}
	return nil
}

// Shutdown makes later exports fail fast.
func (e *HTTPExporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

func (e *HTTPExporter) fail(err error) error {
	return &perrors.TracingTransportError{Endpoint: e.endpoint, Err: err}
}
