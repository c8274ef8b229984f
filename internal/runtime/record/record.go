package record

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	perrors "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/internal/runtime/jsoncodec"
)

// TraceContextField is the key publishers use to attach upstream trace
// information to a log message.
const TraceContextField = "zipkinSpan"

var (
	errMissing = errors.New("missing")
	errEmpty   = errors.New("empty")
)

// Record is one decoded log message. Values keep the shape produced by the
// JSON decoder: string, float64, bool, nil, []any and map[string]any.
type Record map[string]any

// TraceContext is the upstream span the processing span is attached to.
type TraceContext struct {
	TraceID      string
	ParentSpanID string
	Sampled      bool
}

// Decode turns a raw channel payload into a Record. Payloads that are not
// UTF-8, not JSON or not a JSON object yield a *errors.DecodeError.
func Decode(raw []byte) (Record, error) {
	if !utf8.Valid(raw) {
		return nil, &perrors.DecodeError{Err: perrors.ErrInvalidUTF8}
	}

	var decoded any
	if err := jsoncodec.Unmarshal(raw, &decoded); err != nil {
		return nil, &perrors.DecodeError{Err: err}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &perrors.DecodeError{Err: perrors.ErrNotObject}
	}
	return Record(obj), nil
}

// Field returns the raw value stored under key.
func (r Record) Field(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// Text returns a scalar field rendered as text. Objects, arrays and null are
// reported as missing.
func (r Record) Text(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// HasTraceContext reports whether the publisher attached a zipkinSpan field,
// whatever its shape.
func (r Record) HasTraceContext() bool {
	_, ok := r[TraceContextField]
	return ok
}

// TraceContext extracts the upstream trace information. The boolean is false
// when the field is absent. When the field is present but unusable the
// boolean is true and a *errors.TraceContextError describes the problem.
//
// Accepted shape:
//
//	{"_traceId":{"value":"<hex>"},"_spanId":"<hex>","_sampled":{"value":true}}
//
// Bare strings and booleans are accepted in place of the {"value":...}
// wrappers. A missing sampling decision is treated as not sampled.
func (r Record) TraceContext() (TraceContext, bool, error) {
	raw, ok := r[TraceContextField]
	if !ok {
		return TraceContext{}, false, nil
	}

	span, ok := raw.(map[string]any)
	if !ok {
		return TraceContext{}, true, &perrors.TraceContextError{
			Field: TraceContextField,
			Err:   fmt.Errorf("expected object, got %s", describe(raw)),
		}
	}

	traceID, err := requiredText(span, "_traceId", true)
	if err != nil {
		return TraceContext{}, true, err
	}
	parentID, err := requiredText(span, "_spanId", false)
	if err != nil {
		return TraceContext{}, true, err
	}
	sampled, err := sampledFlag(span)
	if err != nil {
		return TraceContext{}, true, err
	}

	return TraceContext{TraceID: traceID, ParentSpanID: parentID, Sampled: sampled}, true, nil
}

// String renders the record as compact JSON with sorted keys.
func (r Record) String() string {
	out, err := jsoncodec.MarshalToString(map[string]any(r))
	if err != nil {
		return fmt.Sprint(map[string]any(r))
	}
	return out
}

func requiredText(span map[string]any, key string, wrapped bool) (string, error) {
	field := TraceContextField + "." + key
	v, ok := span[key]
	if !ok || v == nil {
		return "", &perrors.TraceContextError{Field: field, Err: errMissing}
	}
	if wrapped {
		if obj, isObj := v.(map[string]any); isObj {
			field += ".value"
			v, ok = obj["value"]
			if !ok || v == nil {
				return "", &perrors.TraceContextError{Field: field, Err: errMissing}
			}
		}
	}
	s, ok := v.(string)
	if !ok {
		return "", &perrors.TraceContextError{Field: field, Err: fmt.Errorf("expected string, got %s", describe(v))}
	}
	if s == "" {
		return "", &perrors.TraceContextError{Field: field, Err: errEmpty}
	}
	return s, nil
}

func sampledFlag(span map[string]any) (bool, error) {
	field := TraceContextField + "._sampled"
	v, ok := span["_sampled"]
	if !ok || v == nil {
		return false, nil
	}
	if obj, isObj := v.(map[string]any); isObj {
		field += ".value"
		v = obj["value"]
	}
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, &perrors.TraceContextError{Field: field, Err: err}
		}
		return b, nil
	default:
		return false, &perrors.TraceContextError{Field: field, Err: fmt.Errorf("expected boolean, got %s", describe(v))}
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
