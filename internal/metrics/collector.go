// Package metrics collects outcome, size, and latency of every storage
// operation. The Collector is an explicitly owned, single-instance aggregator
// injected into its callers - not a package-global - and every mutation
// passes through one mutex so concurrent reporters never tear a counter.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation identifies the kind of storage operation being recorded.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
	OpList     Operation = "list"
)

// windowCapacity is the fixed size of the per-operation latency window.
// The oldest sample is evicted first when the window is full.
const windowCapacity = 1000

// Record describes one completed storage operation.
type Record struct {
	// Op is the operation kind.
	Op Operation

	// Success reports whether the operation completed.
	Success bool

	// Bytes is the number of bytes moved, if any.
	Bytes int64

	// Latency is the wall-clock duration of the operation.
	Latency time.Duration

	// Provider is the backend provider involved, if known.
	Provider string

	// ErrorCode is the machine-readable failure code, empty on success.
	ErrorCode string
}

// opStats accumulates per-operation-kind counters.
type opStats struct {
	attempted int64
	succeeded int64
	failed    int64
	bytes     int64
}

// providerStats accumulates the per-provider table. Average latency is
// maintained incrementally because provider-level windows are not retained
// in full.
type providerStats struct {
	operations   int64
	errors       int64
	bytes        int64
	avgLatencyMs float64
}

// latencyWindow is a fixed-capacity FIFO ring of latency samples. The
// average is computed on demand from the live window, never cached
// incrementally, to avoid accumulated floating-point drift.
type latencyWindow struct {
	samples [windowCapacity]float64
	next    int
	count   int
}

// add records a sample, evicting the oldest when full.
func (w *latencyWindow) add(ms float64) {
	w.samples[w.next] = ms
	w.next = (w.next + 1) % windowCapacity
	if w.count < windowCapacity {
		w.count++
	}
}

// average computes the mean over the live window.
func (w *latencyWindow) average() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / float64(w.count)
}

// Collector aggregates storage operation metrics for the life of the
// process. State is reset only by explicit operator action or restart and is
// never persisted.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time
	updatedAt time.Time

	ops            map[Operation]*opStats
	windows        map[Operation]*latencyWindow
	providers      map[string]*providerStats
	errorCodes     map[string]int64
	providerErrors map[string]int64

	prom *promInstruments
}

// NewCollector creates a Collector. Prometheus instruments are registered on
// reg when it is non-nil, so dashboards get the same numbers as the JSON
// snapshot without a second bookkeeping path.
func NewCollector(reg prometheus.Registerer) *Collector {
	now := time.Now().UTC()
	c := &Collector{
		startedAt:      now,
		updatedAt:      now,
		ops:            make(map[Operation]*opStats),
		windows:        make(map[Operation]*latencyWindow),
		providers:      make(map[string]*providerStats),
		errorCodes:     make(map[string]int64),
		providerErrors: make(map[string]int64),
	}
	if reg != nil {
		c.prom = newPromInstruments(reg)
	}
	return c
}

// Record ingests one completed operation.
func (c *Collector) Record(rec Record) {
	ms := float64(rec.Latency) / float64(time.Millisecond)

	c.mu.Lock()

	c.updatedAt = time.Now().UTC()

	op := c.ops[rec.Op]
	if op == nil {
		op = &opStats{}
		c.ops[rec.Op] = op
	}
	op.attempted++
	if rec.Success {
		op.succeeded++
	} else {
		op.failed++
	}
	op.bytes += rec.Bytes

	w := c.windows[rec.Op]
	if w == nil {
		w = &latencyWindow{}
		c.windows[rec.Op] = w
	}
	w.add(ms)

	if rec.Provider != "" {
		p := c.providers[rec.Provider]
		if p == nil {
			p = &providerStats{}
			c.providers[rec.Provider] = p
		}
		p.operations++
		p.bytes += rec.Bytes
		// newAvg = (oldAvg*(n-1) + sample) / n
		p.avgLatencyMs = (p.avgLatencyMs*float64(p.operations-1) + ms) / float64(p.operations)
		if !rec.Success {
			p.errors++
			c.providerErrors[rec.Provider]++
		}
	}

	if rec.ErrorCode != "" {
		c.errorCodes[rec.ErrorCode]++
	}

	c.mu.Unlock()

	if c.prom != nil {
		c.prom.observe(rec, ms)
	}
}

// Reset clears all collected state. Prometheus counters are monotonic by
// contract and are left alone.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	c.startedAt = now
	c.updatedAt = now
	c.ops = make(map[Operation]*opStats)
	c.windows = make(map[Operation]*latencyWindow)
	c.providers = make(map[string]*providerStats)
	c.errorCodes = make(map[string]int64)
	c.providerErrors = make(map[string]int64)
}

// =============================================================================
// Snapshot
// =============================================================================

// OperationSnapshot is the externally visible view of one operation kind.
type OperationSnapshot struct {
	Attempted    int64   `json:"attempted"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	Bytes        int64   `json:"bytes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	// WindowSize is the number of live latency samples behind AvgLatencyMs.
	WindowSize int `json:"window_size"`
}

// ProviderSnapshot is the externally visible per-provider row.
type ProviderSnapshot struct {
	Operations   int64   `json:"operations"`
	Errors       int64   `json:"errors"`
	Bytes        int64   `json:"bytes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Snapshot is a JSON-serializable view of all collected metrics.
type Snapshot struct {
	StartedAt      time.Time                       `json:"started_at"`
	UpdatedAt      time.Time                       `json:"updated_at"`
	Operations     map[Operation]OperationSnapshot `json:"operations"`
	Providers      map[string]ProviderSnapshot     `json:"providers"`
	ErrorCodes     map[string]int64                `json:"error_codes"`
	ProviderErrors map[string]int64                `json:"provider_errors"`
}

// Snapshot returns a consistent copy of all collected metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		StartedAt:      c.startedAt,
		UpdatedAt:      c.updatedAt,
		Operations:     make(map[Operation]OperationSnapshot, len(c.ops)),
		Providers:      make(map[string]ProviderSnapshot, len(c.providers)),
		ErrorCodes:     make(map[string]int64, len(c.errorCodes)),
		ProviderErrors: make(map[string]int64, len(c.providerErrors)),
	}

	for op, s := range c.ops {
		os := OperationSnapshot{
			Attempted: s.attempted,
			Succeeded: s.succeeded,
			Failed:    s.failed,
			Bytes:     s.bytes,
		}
		if w := c.windows[op]; w != nil {
			os.AvgLatencyMs = w.average()
			os.WindowSize = w.count
		}
		snap.Operations[op] = os
	}

	for name, p := range c.providers {
		snap.Providers[name] = ProviderSnapshot{
			Operations:   p.operations,
			Errors:       p.errors,
			Bytes:        p.bytes,
			AvgLatencyMs: p.avgLatencyMs,
		}
	}

	for code, n := range c.errorCodes {
		snap.ErrorCodes[code] = n
	}
	for name, n := range c.providerErrors {
		snap.ProviderErrors[name] = n
	}

	return snap
}

// =============================================================================
// Prometheus bridge
// =============================================================================

// promInstruments mirrors collector updates into Prometheus metrics.
type promInstruments struct {
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

func newPromInstruments(reg prometheus.Registerer) *promInstruments {
	p := &promInstruments{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filewarden_storage_operations_total",
			Help: "Storage operations by kind, provider, and result.",
		}, []string{"operation", "provider", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filewarden_storage_bytes_total",
			Help: "Bytes moved by operation kind and provider.",
		}, []string{"operation", "provider"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filewarden_storage_operation_duration_ms",
			Help:    "Storage operation latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"operation", "provider"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filewarden_storage_errors_total",
			Help: "Storage operation failures by error code.",
		}, []string{"code", "provider"}),
	}

	reg.MustRegister(p.operations, p.bytes, p.latency, p.errors)
	return p
}

func (p *promInstruments) observe(rec Record, ms float64) {
	result := "success"
	if !rec.Success {
		result = "failure"
	}

	p.operations.WithLabelValues(string(rec.Op), rec.Provider, result).Inc()
	p.latency.WithLabelValues(string(rec.Op), rec.Provider).Observe(ms)
	if rec.Bytes > 0 {
		p.bytes.WithLabelValues(string(rec.Op), rec.Provider).Add(float64(rec.Bytes))
	}
	if rec.ErrorCode != "" {
		p.errors.WithLabelValues(rec.ErrorCode, rec.Provider).Inc()
	}
}
