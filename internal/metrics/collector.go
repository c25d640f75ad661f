package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolState exposes point-in-time worker pool gauges
type PoolState interface {
	ActiveCount() int
	QueueSize() int
	PoolSize() int
	CallerRuns() int64
}

// TrackerState exposes the size of the in-flight set
type TrackerState interface {
	Len() int
}

// GateState exposes the admission gate occupancy
type GateState interface {
	InUse() int
	Bound() int
}

// Snapshot is a consistent-enough read of all statistics
type Snapshot struct {
	FilesUploaded int64     `json:"files_uploaded"`
	BytesUploaded int64     `json:"bytes_uploaded"`
	FilesFailed   int64     `json:"files_failed"`
	ActiveTasks   int       `json:"active_tasks"`
	QueuedTasks   int       `json:"queued_tasks"`
	PoolSize      int       `json:"pool_size"`
	CallerRuns    int64     `json:"caller_runs"`
	InFlight      int       `json:"in_flight"`
	PermitsInUse  int       `json:"permits_in_use"`
	PermitBound   int       `json:"permit_bound"`
	StartTime     time.Time `json:"start_time"`
}

// Collector holds the upload statistics. Counters are only ever incremented
// and never reset while the process runs.
type Collector struct {
	filesUploaded atomic.Int64
	bytesUploaded atomic.Int64
	filesFailed   atomic.Int64

	pool      atomic.Pointer[PoolState]
	gate      atomic.Pointer[GateState]
	tracker   atomic.Pointer[TrackerState]
	startTime time.Time

	duration prometheus.Histogram
	registry *prometheus.Registry
}

// New creates a new metrics collector registered on its own registry
func New() *Collector {
	c := &Collector{
		startTime: time.Now(),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_file_duration_seconds",
				Help:    "Time taken to upload a file, including its disposition",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "upload_files_uploaded_total",
			Help: "Total number of files uploaded",
		}, func() float64 { return float64(c.filesUploaded.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "upload_bytes_total",
			Help: "Total bytes uploaded",
		}, func() float64 { return float64(c.bytesUploaded.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "upload_files_failed_total",
			Help: "Total number of file uploads that failed",
		}, func() float64 { return float64(c.filesFailed.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "upload_active_tasks",
			Help: "Number of uploads currently executing",
		}, func() float64 { return float64(c.Snapshot().ActiveTasks) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "upload_queued_tasks",
			Help: "Number of uploads waiting for a worker",
		}, func() float64 { return float64(c.Snapshot().QueuedTasks) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "upload_pool_workers",
			Help: "Number of live upload workers",
		}, func() float64 { return float64(c.Snapshot().PoolSize) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "upload_caller_runs_total",
			Help: "Uploads run on the scanning goroutine because the pool was saturated",
		}, func() float64 { return float64(c.Snapshot().CallerRuns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "upload_in_flight_files",
			Help: "Number of files claimed and not yet completed",
		}, func() float64 { return float64(c.Snapshot().InFlight) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "upload_admission_permits_in_use",
			Help: "Number of admitted tasks not yet completed",
		}, func() float64 { return float64(c.Snapshot().PermitsInUse) }),
		c.duration,
	)

	return c
}

// BindPool sets the source of the active and queued gauges
func (c *Collector) BindPool(p PoolState) {
	c.pool.Store(&p)
}

// BindGate sets the source of the permit gauges
func (c *Collector) BindGate(g GateState) {
	c.gate.Store(&g)
}

// BindTracker sets the source of the in-flight gauge
func (c *Collector) BindTracker(t TrackerState) {
	c.tracker.Store(&t)
}

// RecordSuccess counts an uploaded file
func (c *Collector) RecordSuccess(bytes int64, duration time.Duration) {
	c.filesUploaded.Add(1)
	c.bytesUploaded.Add(bytes)
	c.duration.Observe(duration.Seconds())
}

// RecordFailure counts a failed upload
func (c *Collector) RecordFailure() {
	c.filesFailed.Add(1)
}

// FilesUploaded returns the total number of files uploaded
func (c *Collector) FilesUploaded() int64 {
	return c.filesUploaded.Load()
}

// BytesUploaded returns the total bytes uploaded
func (c *Collector) BytesUploaded() int64 {
	return c.bytesUploaded.Load()
}

// FilesFailed returns the total number of failed uploads
func (c *Collector) FilesFailed() int64 {
	return c.filesFailed.Load()
}

// Snapshot reads all counters and gauges
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		FilesUploaded: c.filesUploaded.Load(),
		BytesUploaded: c.bytesUploaded.Load(),
		FilesFailed:   c.filesFailed.Load(),
		StartTime:     c.startTime,
	}
	if p := c.pool.Load(); p != nil {
		s.ActiveTasks = (*p).ActiveCount()
		s.QueuedTasks = (*p).QueueSize()
		s.PoolSize = (*p).PoolSize()
		s.CallerRuns = (*p).CallerRuns()
	}
	if t := c.tracker.Load(); t != nil {
		s.InFlight = (*t).Len()
	}
	if g := c.gate.Load(); g != nil {
		s.PermitsInUse = (*g).InUse()
		s.PermitBound = (*g).Bound()
	}
	return s
}

// Registry returns the Prometheus registry holding the upload metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
