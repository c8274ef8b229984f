package tracing

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/thrift/lib/go/thrift"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/proto/zipkin_proto3"
	"github.com/openzipkin/zipkin-go/reporter"
)

// Supported span encodings.
const (
	EncodingThrift = "thrift"
	EncodingJSON   = "json"
	EncodingProto  = "proto"
)

// NewSerializer returns the span serializer for the named encoding.
func NewSerializer(encoding string) (reporter.SpanSerializer, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingThrift:
		return ThriftSerializer{}, nil
	case EncodingJSON:
		return reporter.JSONSerializer{}, nil
	case EncodingProto:
		return zipkin_proto3.SpanSerializer{}, nil
	default:
		return nil, fmt.Errorf("unsupported span encoding %q", encoding)
	}
}

// ThriftSerializer writes spans as a TBinaryProtocol list of zipkinCore Span
// structs.
type ThriftSerializer struct{}

// Core annotation values, keyed by span kind: start then finish.
var kindAnnotations = map[model.Kind][2]string{
	model.Client:   {"cs", "cr"},
	model.Server:   {"sr", "ss"},
	model.Producer: {"ms", "ws"},
	model.Consumer: {"wr", "mr"},
}

const annotationTypeString int32 = 6

func (ThriftSerializer) ContentType() string { return "application/x-thrift" }

func (ThriftSerializer) Serialize(spans []*model.SpanModel) ([]byte, error) {
	buf := thrift.NewTMemoryBuffer()
	w := &thriftWriter{
		ctx: context.Background(),
		p:   thrift.NewTBinaryProtocolConf(buf, &thrift.TConfiguration{}),
	}

	w.listBegin(thrift.STRUCT, len(spans))
	for _, span := range spans {
		w.span(span)
	}
	w.listEnd()
	if w.err == nil {
		w.err = w.p.Flush(w.ctx)
	}
	if w.err != nil {
		return nil, fmt.Errorf("thrift encode: %w", w.err)
	}
	return buf.Bytes(), nil
}

// thriftWriter keeps the first protocol error and turns later writes into
// no-ops.
type thriftWriter struct {
	ctx context.Context
	p   thrift.TProtocol
	err error
}

func (w *thriftWriter) do(fn func() error) {
	if w.err != nil {
		return
	}
	if err := fn(); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *thriftWriter) listBegin(elem thrift.TType, size int) {
	w.do(func() error { return w.p.WriteListBegin(w.ctx, elem, size) })
}

func (w *thriftWriter) listEnd() {
	w.do(func() error { return w.p.WriteListEnd(w.ctx) })
}

func (w *thriftWriter) structBegin(name string) {
	w.do(func() error { return w.p.WriteStructBegin(w.ctx, name) })
}

func (w *thriftWriter) structEnd() {
	w.do(func() error { return w.p.WriteFieldStop(w.ctx) })
	w.do(func() error { return w.p.WriteStructEnd(w.ctx) })
}

func (w *thriftWriter) field(name string, typ thrift.TType, id int16, value func() error) {
	w.do(func() error { return w.p.WriteFieldBegin(w.ctx, name, typ, id) })
	w.do(value)
	w.do(func() error { return w.p.WriteFieldEnd(w.ctx) })
}

func (w *thriftWriter) i64(name string, id int16, v int64) {
	w.field(name, thrift.I64, id, func() error { return w.p.WriteI64(w.ctx, v) })
}

func (w *thriftWriter) str(name string, id int16, v string) {
	w.field(name, thrift.STRING, id, func() error { return w.p.WriteString(w.ctx, v) })
}

func (w *thriftWriter) span(s *model.SpanModel) {
	host := s.LocalEndpoint

	w.structBegin("Span")
	w.i64("trace_id", 1, int64(s.TraceID.Low))
	w.str("name", 3, s.Name)
	w.i64("id", 4, int64(s.ID))
	if s.ParentID != nil {
		w.i64("parent_id", 5, int64(*s.ParentID))
	}

	annotations := w.annotationsFor(s)
	w.field("annotations", thrift.LIST, 6, func() error {
		w.listBegin(thrift.STRUCT, len(annotations))
		for _, a := range annotations {
			w.annotation(a, host)
		}
		w.listEnd()
		return nil
	})

	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.field("binary_annotations", thrift.LIST, 8, func() error {
		w.listBegin(thrift.STRUCT, len(keys))
		for _, k := range keys {
			w.binaryAnnotation(k, s.Tags[k], host)
		}
		w.listEnd()
		return nil
	})

	if s.Debug {
		w.field("debug", thrift.BOOL, 9, func() error { return w.p.WriteBool(w.ctx, true) })
	}
	if !s.Timestamp.IsZero() {
		w.i64("timestamp", 10, s.Timestamp.UnixMicro())
		w.i64("duration", 11, s.Duration.Microseconds())
	}
	if s.TraceID.High != 0 {
		w.i64("trace_id_high", 12, int64(s.TraceID.High))
	}
	w.structEnd()
}

func (w *thriftWriter) annotationsFor(s *model.SpanModel) []model.Annotation {
	out := make([]model.Annotation, 0, len(s.Annotations)+2)
	if pair, ok := kindAnnotations[s.Kind]; ok && !s.Timestamp.IsZero() {
		out = append(out,
			model.Annotation{Timestamp: s.Timestamp, Value: pair[0]},
			model.Annotation{Timestamp: s.Timestamp.Add(s.Duration), Value: pair[1]},
		)
	}
	return append(out, s.Annotations...)
}

func (w *thriftWriter) annotation(a model.Annotation, host *model.Endpoint) {
	w.structBegin("Annotation")
	w.i64("timestamp", 1, a.Timestamp.UnixMicro())
	w.str("value", 2, a.Value)
	if host != nil {
		w.field("host", thrift.STRUCT, 3, func() error { w.endpoint(host); return nil })
	}
	w.structEnd()
}

func (w *thriftWriter) binaryAnnotation(key, value string, host *model.Endpoint) {
	w.structBegin("BinaryAnnotation")
	w.str("key", 1, key)
	w.field("value", thrift.STRING, 2, func() error { return w.p.WriteBinary(w.ctx, []byte(value)) })
	w.field("annotation_type", thrift.I32, 3, func() error { return w.p.WriteI32(w.ctx, annotationTypeString) })
	if host != nil {
		w.field("host", thrift.STRUCT, 4, func() error { w.endpoint(host); return nil })
	}
	w.structEnd()
}

func (w *thriftWriter) endpoint(e *model.Endpoint) {
	var ipv4 int32
	if ip := e.IPv4.To4(); ip != nil {
		ipv4 = int32(binary.BigEndian.Uint32(ip))
	}
	w.structBegin("Endpoint")
	w.field("ipv4", thrift.I32, 1, func() error { return w.p.WriteI32(w.ctx, ipv4) })
	w.field("port", thrift.I16, 2, func() error { return w.p.WriteI16(w.ctx, int16(e.Port)) })
	w.str("service_name", 3, e.ServiceName)
	w.structEnd()
}
