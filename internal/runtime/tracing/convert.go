package tracing

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/openzipkin/zipkin-go/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	perrors "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/internal/runtime/record"
)

const serviceNameKey = attribute.Key("service.name")

var errZeroID = errors.New("identifier must not be zero")

// RemoteParent turns the upstream trace context into the span context the
// processing span is started under.
func RemoteParent(tc record.TraceContext) (trace.SpanContext, error) {
	zipkinTraceID, err := model.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return trace.SpanContext{}, &perrors.TraceContextError{Field: record.TraceContextField + "._traceId", Err: err}
	}
	if zipkinTraceID.Empty() {
		return trace.SpanContext{}, &perrors.TraceContextError{Field: record.TraceContextField + "._traceId", Err: errZeroID}
	}

	parent, err := strconv.ParseUint(tc.ParentSpanID, 16, 64)
	if err != nil {
		return trace.SpanContext{}, &perrors.TraceContextError{Field: record.TraceContextField + "._spanId", Err: err}
	}
	if parent == 0 {
		return trace.SpanContext{}, &perrors.TraceContextError{Field: record.TraceContextField + "._spanId", Err: errZeroID}
	}

	var flags trace.TraceFlags
	if tc.Sampled {
		flags = trace.FlagsSampled
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    toTraceID(zipkinTraceID),
		SpanID:     toSpanID(model.ID(parent)),
		TraceFlags: flags,
		Remote:     true,
	}), nil
}

// toSpanModel converts a finished SDK span into the Zipkin model the
// serializers understand.
func toSpanModel(s sdktrace.ReadOnlySpan, fallbackService string) *model.SpanModel {
	sc := s.SpanContext()
	sampled := sc.IsSampled()

	span := &model.SpanModel{
		SpanContext: model.SpanContext{
			TraceID: fromTraceID(sc.TraceID()),
			ID:      fromSpanID(sc.SpanID()),
			Sampled: &sampled,
		},
		Name:          s.Name(),
		Kind:          toKind(s.SpanKind()),
		Timestamp:     s.StartTime(),
		Duration:      s.EndTime().Sub(s.StartTime()),
		LocalEndpoint: &model.Endpoint{ServiceName: serviceName(s, fallbackService)},
	}

	if parent := s.Parent(); parent.SpanID().IsValid() {
		id := fromSpanID(parent.SpanID())
		span.ParentID = &id
	}

	if attrs := s.Attributes(); len(attrs) > 0 {
		span.Tags = make(map[string]string, len(attrs))
		for _, kv := range attrs {
			span.Tags[string(kv.Key)] = kv.Value.Emit()
		}
	}
	if st := s.Status(); st.Code == codes.Error && st.Description != "" {
		if span.Tags == nil {
			span.Tags = map[string]string{}
		}
		span.Tags["error"] = st.Description
	}

	for _, ev := range s.Events() {
		span.Annotations = append(span.Annotations, model.Annotation{
			Timestamp: ev.Time,
			Value:     ev.Name,
		})
	}

	return span
}

func serviceName(s sdktrace.ReadOnlySpan, fallback string) string {
	if res := s.Resource(); res != nil {
		if v, ok := res.Set().Value(serviceNameKey); ok && v.AsString() != "" {
			return v.AsString()
		}
	}
	return fallback
}

func toKind(kind trace.SpanKind) model.Kind {
	switch kind {
	case trace.SpanKindClient:
		return model.Client
	case trace.SpanKindProducer:
		return model.Producer
	case trace.SpanKindConsumer:
		return model.Consumer
	case trace.SpanKindServer:
		return model.Server
	default:
		return model.Undetermined
	}
}

func toTraceID(id model.TraceID) trace.TraceID {
	var out trace.TraceID
	binary.BigEndian.PutUint64(out[:8], id.High)
	binary.BigEndian.PutUint64(out[8:], id.Low)
	return out
}

func fromTraceID(id trace.TraceID) model.TraceID {
	return model.TraceID{
		High: binary.BigEndian.Uint64(id[:8]),
		Low:  binary.BigEndian.Uint64(id[8:]),
	}
}

func toSpanID(id model.ID) trace.SpanID {
	var out trace.SpanID
	binary.BigEndian.PutUint64(out[:], uint64(id))
	return out
}

func fromSpanID(id trace.SpanID) model.ID {
	return model.ID(binary.BigEndian.Uint64(id[:]))
}
