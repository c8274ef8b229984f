package runtime

import (
	"context"
	"errors"
	"math"
	"runtime"
	"runtime/metrics"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/logprocessor/internal/runtime/errors"
	"github.com/drblury/logprocessor/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory groups delivery errors on the status endpoint.
type ErrorCategory string

const (
	ErrorCategoryNone             ErrorCategory = "none"
	ErrorCategoryDecode           ErrorCategory = "decode"
	ErrorCategoryTraceContext     ErrorCategory = "trace_context"
	ErrorCategoryTracingTransport ErrorCategory = "tracing_transport"
	ErrorCategoryOther            ErrorCategory = "other"
)

// ErrorClassifier maps a delivery error onto a category.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	var (
		decodeErr    *errspkg.DecodeError
		traceCtxErr  *errspkg.TraceContextError
		transportErr *errspkg.TracingTransportError
	)
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.As(err, &decodeErr):
		return ErrorCategoryDecode
	case errors.As(err, &traceCtxErr):
		return ErrorCategoryTraceContext
	case errors.As(err, &transportErr), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTracingTransport
	default:
		return ErrorCategoryOther
	}
}

// HandlerInfo describes one registered processor on the status endpoint.
type HandlerInfo struct {
	Name    string        `json:"name"`
	Channel string        `json:"channel"`
	Tracing bool          `json:"tracing"`
	Stats   *HandlerStats `json:"stats"`
}

// HandlerStats accumulates per-handler delivery statistics.
type HandlerStats struct {
	mu sync.Mutex

	MessagesProcessed uint64    `json:"messages_processed"`
	MessagesFailed    uint64    `json:"messages_failed"`
	MessagesTraced    uint64    `json:"messages_traced"`
	TracingFailures   uint64    `json:"tracing_failures"`
	LastDeliveryAt    time.Time `json:"last_delivery_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latency    *latencyRing
	throughput *throughputWindow
	resources  *resourceTracker
	classifier ErrorClassifier
}

// LatencyMetrics summarises recent end-to-end delivery latencies.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow int     `json:"messages_in_window"`
}

type ErrorBreakdown struct {
	Decode           uint64 `json:"decode"`
	TraceContext     uint64 `json:"trace_context"`
	TracingTransport uint64 `json:"tracing_transport"`
	Other            uint64 `json:"other"`
	LastError        string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

func newHandlerStats(resources *resourceTracker, classifier ErrorClassifier) *HandlerStats {
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	return &HandlerStats{
		latency:    newLatencyRing(latencySampleSize),
		throughput: &throughputWindow{horizon: throughputWindowSize},
		resources:  resources,
		classifier: classifier,
	}
}

// observe folds one delivery into the statistics. elapsed covers the whole
// delivery, including tracing.
func (h *HandlerStats) observe(res Result, elapsed time.Duration) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	switch res.Outcome {
	case OutcomeProcessed:
		h.MessagesProcessed++
		if res.Traced {
			h.MessagesTraced++
		} else if res.Err != nil {
			h.TracingFailures++
		}
	case OutcomeFailed:
		h.MessagesFailed++
	}
	h.LastDeliveryAt = now.UTC()

	h.latency.add(elapsed)
	h.Latency = h.latency.snapshot()
	h.Throughput = h.throughput.add(now)
	h.Errors.record(h.classifier(res.Err), res.Err)

	if h.resources != nil {
		h.Resource = h.resources.Snapshot()
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type view HandlerStats
	return jsoncodec.Marshal((*view)(h))
}

func (e *ErrorBreakdown) record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		return
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategoryTraceContext:
		e.TraceContext++
	case ErrorCategoryTracingTransport:
		e.TracingTransport++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// latencyRing keeps the most recent samples in a fixed-size ring.
type latencyRing struct {
	samples []time.Duration
	next    int
	full    bool
	last    time.Duration
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{samples: make([]time.Duration, size)}
}

func (r *latencyRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.last = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *latencyRing) snapshot() LatencyMetrics {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	out := LatencyMetrics{LastNs: int64(r.last), SampleSize: n}
	if n == 0 {
		return out
	}

	sorted := slices.Clone(r.samples[:n])
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	out.AverageNs = int64(sum) / int64(n)
	out.P50Ns = int64(nearestRank(sorted, 0.50))
	out.P95Ns = int64(nearestRank(sorted, 0.95))
	out.P99Ns = int64(nearestRank(sorted, 0.99))
	return out
}

// nearestRank returns the smallest sample covering quantile q of a sorted
// slice.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

type throughputWindow struct {
	horizon time.Duration
	seen    []time.Time
}

func (w *throughputWindow) add(now time.Time) ThroughputMetrics {
	w.seen = append(w.seen, now)
	cutoff := now.Add(-w.horizon)
	drop := 0
	for drop < len(w.seen) && w.seen[drop].Before(cutoff) {
		drop++
	}
	w.seen = slices.Delete(w.seen, 0, drop)

	span := now.Sub(w.seen[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return ThroughputMetrics{
		CurrentRPS:       float64(len(w.seen)) / span.Seconds(),
		WindowSeconds:    span.Seconds(),
		MessagesInWindow: len(w.seen),
	}
}

// resourceTracker samples process CPU and memory usage for the status
// endpoint.
type resourceTracker struct {
	mu         sync.Mutex
	sample     []metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		sample: []metrics.Sample{{Name: "/cpu/classes/total:cpu-seconds"}},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.sample)
	now := time.Now()

	var usage ResourceUsage
	if v := r.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if wall := now.Sub(r.lastSample).Seconds(); !r.lastSample.IsZero() && wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
		}
		r.lastCPU = cpu
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
