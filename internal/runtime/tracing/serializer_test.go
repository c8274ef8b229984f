package tracing

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/apache/thrift/lib/go/thrift"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerializerContentTypes(t *testing.T) {
	tests := map[string]string{
		"":       "application/x-thrift",
		"thrift": "application/x-thrift",
		"JSON":   "application/json",
		"proto":  "application/x-protobuf",
	}
	for encoding, contentType := range tests {
		s, err := NewSerializer(encoding)
		require.NoError(t, err, encoding)
		assert.Equal(t, contentType, s.ContentType(), encoding)
	}

	_, err := NewSerializer("avro")
	assert.Error(t, err)
}

// decodedSpan holds the fields of a zipkinCore Span read back from the wire.
type decodedSpan struct {
	traceID     int64
	traceIDHigh int64
	name        string
	id          int64
	parentID    int64
	timestamp   int64
	duration    int64
	annotations []string
	binaryKeys  []string
	hostService string
}

func decodeThriftSpans(t *testing.T, data []byte) []decodedSpan {
	t.Helper()
	ctx := context.Background()
	buf := thrift.NewTMemoryBuffer()
	_, err := buf.Write(data)
	require.NoError(t, err)
	p := thrift.NewTBinaryProtocolConf(buf, &thrift.TConfiguration{})

	elemType, size, err := p.ReadListBegin(ctx)
	require.NoError(t, err)
	require.Equal(t, thrift.TType(thrift.STRUCT), elemType)

	out := make([]decodedSpan, 0, size)
	for i := 0; i < size; i++ {
		var span decodedSpan
		_, err := p.ReadStructBegin(ctx)
		require.NoError(t, err)
		for {
			_, typ, id, err := p.ReadFieldBegin(ctx)
			require.NoError(t, err)
			if typ == thrift.STOP {
				break
			}
			switch id {
			case 1:
				span.traceID, err = p.ReadI64(ctx)
			case 3:
				span.name, err = p.ReadString(ctx)
			case 4:
				span.id, err = p.ReadI64(ctx)
			case 5:
				span.parentID, err = p.ReadI64(ctx)
			case 6:
				span.annotations, span.hostService = readAnnotations(t, ctx, p)
			case 8:
				span.binaryKeys = readBinaryAnnotationKeys(t, ctx, p)
			case 10:
				span.timestamp, err = p.ReadI64(ctx)
			case 11:
				span.duration, err = p.ReadI64(ctx)
			case 12:
				span.traceIDHigh, err = p.ReadI64(ctx)
			default:
				err = p.Skip(ctx, typ)
			}
			require.NoError(t, err)
			require.NoError(t, p.ReadFieldEnd(ctx))
		}
		require.NoError(t, p.ReadStructEnd(ctx))
		out = append(out, span)
	}
	require.NoError(t, p.ReadListEnd(ctx))
	return out
}

func readAnnotations(t *testing.T, ctx context.Context, p thrift.TProtocol) ([]string, string) {
	t.Helper()
	_, size, err := p.ReadListBegin(ctx)
	require.NoError(t, err)

	var values []string
	var service string
	for i := 0; i < size; i++ {
		_, err := p.ReadStructBegin(ctx)
		require.NoError(t, err)
		for {
			_, typ, id, err := p.ReadFieldBegin(ctx)
			require.NoError(t, err)
			if typ == thrift.STOP {
				break
			}
			switch id {
			case 2:
				v, err := p.ReadString(ctx)
				require.NoError(t, err)
				values = append(values, v)
			case 3:
				service = readEndpointService(t, ctx, p)
			default:
				require.NoError(t, p.Skip(ctx, typ))
			}
			require.NoError(t, p.ReadFieldEnd(ctx))
		}
		require.NoError(t, p.ReadStructEnd(ctx))
	}
	require.NoError(t, p.ReadListEnd(ctx))
	return values, service
}

func readBinaryAnnotationKeys(t *testing.T, ctx context.Context, p thrift.TProtocol) []string {
	t.Helper()
	_, size, err := p.ReadListBegin(ctx)
	require.NoError(t, err)

	var keys []string
	for i := 0; i < size; i++ {
		_, err := p.ReadStructBegin(ctx)
		require.NoError(t, err)
		for {
			_, typ, id, err := p.ReadFieldBegin(ctx)
			require.NoError(t, err)
			if typ == thrift.STOP {
				break
			}
			if id == 1 {
				k, err := p.ReadString(ctx)
				require.NoError(t, err)
				keys = append(keys, k)
			} else {
				require.NoError(t, p.Skip(ctx, typ))
			}
			require.NoError(t, p.ReadFieldEnd(ctx))
		}
		require.NoError(t, p.ReadStructEnd(ctx))
	}
	require.NoError(t, p.ReadListEnd(ctx))
	return keys
}

func readEndpointService(t *testing.T, ctx context.Context, p thrift.TProtocol) string {
	t.Helper()
	var service string
	_, err := p.ReadStructBegin(ctx)
	require.NoError(t, err)
	for {
		_, typ, id, err := p.ReadFieldBegin(ctx)
		require.NoError(t, err)
		if typ == thrift.STOP {
			break
		}
		if id == 3 {
			service, err = p.ReadString(ctx)
			require.NoError(t, err)
		} else {
			require.NoError(t, p.Skip(ctx, typ))
		}
		require.NoError(t, p.ReadFieldEnd(ctx))
	}
	require.NoError(t, p.ReadStructEnd(ctx))
	return service
}

func TestThriftSerializerRoundTrip(t *testing.T) {
	parent := model.ID(0xdef)
	start := time.UnixMicro(1_700_000_000_000_000)
	span := &model.SpanModel{
		SpanContext: model.SpanContext{
			TraceID:  model.TraceID{High: 0x463ac35c9f6413ad, Low: 0x48485a3953bb6124},
			ID:       model.ID(0x1234),
			ParentID: &parent,
		},
		Name:          SpanName,
		Kind:          model.Server,
		Timestamp:     start,
		Duration:      1500 * time.Millisecond,
		LocalEndpoint: &model.Endpoint{ServiceName: "log-message-processor", IPv4: net.ParseIP("10.0.0.1"), Port: 8000},
		Tags:          map[string]string{"upstream.sampled": "true", "b": "2"},
	}

	data, err := ThriftSerializer{}.Serialize([]*model.SpanModel{span})
	require.NoError(t, err)

	spans := decodeThriftSpans(t, data)
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, int64(0x48485a3953bb6124), got.traceID)
	assert.Equal(t, int64(0x463ac35c9f6413ad), got.traceIDHigh)
	assert.Equal(t, SpanName, got.name)
	assert.Equal(t, int64(0x1234), got.id)
	assert.Equal(t, int64(0xdef), got.parentID)
	assert.Equal(t, start.UnixMicro(), got.timestamp)
	assert.Equal(t, int64(1_500_000), got.duration)
	assert.Equal(t, []string{"sr", "ss"}, got.annotations)
	assert.Equal(t, []string{"b", "upstream.sampled"}, got.binaryKeys)
	assert.Equal(t, "log-message-processor", got.hostService)
}

func TestThriftSerializerRootSpanWithoutParent(t *testing.T) {
	span := &model.SpanModel{
		SpanContext: model.SpanContext{TraceID: model.TraceID{Low: 0xabc}, ID: model.ID(7)},
		Name:        "root",
		Kind:        model.Client,
		Timestamp:   time.Now(),
		Duration:    time.Millisecond,
		Annotations: []model.Annotation{{Timestamp: time.Now(), Value: "custom"}},
	}

	data, err := ThriftSerializer{}.Serialize([]*model.SpanModel{span, span})
	require.NoError(t, err)

	spans := decodeThriftSpans(t, data)
	require.Len(t, spans, 2)
	assert.Zero(t, spans[0].parentID)
	assert.Zero(t, spans[0].traceIDHigh)
	assert.Equal(t, []string{"cs", "cr", "custom"}, spans[0].annotations)
	assert.Empty(t, spans[0].hostService)
}

func TestThriftSerializerEmptyList(t *testing.T) {
	data, err := ThriftSerializer{}.Serialize(nil)
	require.NoError(t, err)
	assert.Empty(t, decodeThriftSpans(t, data))
}
