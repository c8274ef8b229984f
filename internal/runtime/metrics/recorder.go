package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exposed on the scrape endpoint.
const (
	ProcessedTotalName     = "log_messages_processed_total"
	FailedTotalName        = "log_messages_failed_total"
	ProcessingDurationName = "log_message_processing_duration_seconds"
)

// DurationBuckets spans the simulated handler latency with headroom for a
// slow tracing backend.
var DurationBuckets = []float64{.005, .01, .025, .05, .075, .1, .25, .5, .75, 1, 2.5, 5, 7.5, 10}

// Recorder owns the process-wide message counters and the processing-time
// histogram.
type Recorder struct {
	mu sync.RWMutex

	processed prometheus.Counter
	failed    prometheus.Counter
	duration  prometheus.Histogram

	snapshot Snapshot

	registerer prometheus.Registerer
	registered bool
}

// Snapshot is a point-in-time view of the recorder, served on the status
// endpoint.
type Snapshot struct {
	Processed       uint64    `json:"processed"`
	Failed          uint64    `json:"failed"`
	Observations    uint64    `json:"observations"`
	LastProcessedAt time.Time `json:"last_processed_at,omitempty"`
	LastFailedAt    time.Time `json:"last_failed_at,omitempty"`
}

// NewRecorder creates the collectors. They are not exported until Register is
// called.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Recorder{
		registerer: registerer,
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: ProcessedTotalName,
			Help: "Total number of log messages processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: FailedTotalName,
			Help: "Total number of log messages failed",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    ProcessingDurationName,
			Help:    "Duration of message processing in seconds",
			Buckets: DurationBuckets,
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
// When an equivalent collector already exists on the registerer, the recorder
// switches to it so every writer feeds the same series.
func (r *Recorder) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered {
		return nil
	}

	processed, err := registerOrReuse(r.registerer, r.processed)
	if err != nil {
		return err
	}
	failed, err := registerOrReuse(r.registerer, r.failed)
	if err != nil {
		return err
	}
	duration, err := registerOrReuse(r.registerer, r.duration)
	if err != nil {
		return err
	}

	r.processed, r.failed, r.duration = processed, failed, duration
	r.registered = true
	return nil
}

// MustRegister is Register for process bootstrap code.
func (r *Recorder) MustRegister() *Recorder {
	if err := r.Register(); err != nil {
		panic(err)
	}
	return r
}

// IncProcessed counts one message whose handler ran.
func (r *Recorder) IncProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed.Inc()
	r.snapshot.Processed++
	r.snapshot.LastProcessedAt = time.Now()
}

// IncFailed counts one message that was dropped.
func (r *Recorder) IncFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed.Inc()
	r.snapshot.Failed++
	r.snapshot.LastFailedAt = time.Now()
}

// ObserveDuration records the time spent handling one message.
func (r *Recorder) ObserveDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.duration.Observe(d.Seconds())
	r.snapshot.Observations++
}

// Snapshot returns the counts recorded by this recorder since start.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}
