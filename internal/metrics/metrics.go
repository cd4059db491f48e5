package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "logtriage"

// Collector provides a central place for all application metrics
type Collector struct {
	// Input metrics
	InputLinesRead   *prometheus.CounterVec
	InputBytesRead   *prometheus.CounterVec
	InputBlankLines  *prometheus.CounterVec
	InputReadErrors  *prometheus.CounterVec
	InputRateLimited *prometheus.CounterVec

	// Parser metrics
	ParserEntries  *prometheus.CounterVec
	ParserDuration *prometheus.HistogramVec

	// Rule metrics
	RulesLoaded  prometheus.Gauge
	RulesInvalid prometheus.Gauge

	// Aggregation metrics
	BucketAssignments *prometheus.CounterVec
	TagHits           *prometheus.CounterVec
	EntriesDropped    prometheus.Counter
	EntriesElevated   *prometheus.CounterVec

	// Detector metrics
	DetectorFindings *prometheus.CounterVec

	// Pipeline metrics
	PipelineRuns       *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	PipelinePartitions prometheus.Histogram

	// Output metrics
	OutputSent     *prometheus.CounterVec
	OutputFailed   *prometheus.CounterVec
	OutputBytes    *prometheus.CounterVec
	OutputDuration *prometheus.HistogramVec

	OutputDeadLettered *prometheus.CounterVec

	// Worker pool metrics
	WorkerPoolSize    *prometheus.GaugeVec
	WorkerPoolJobs    *prometheus.CounterVec
	WorkerJobDuration *prometheus.HistogramVec

	// Server metrics
	ServerRequests *prometheus.CounterVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initInputMetrics()
	c.initParserMetrics()
	c.initRuleMetrics()
	c.initAggregationMetrics()
	c.initPipelineMetrics()
	c.initOutputMetrics()
	c.initWorkerPoolMetrics()
	c.initServerMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initInputMetrics() {
	c.InputLinesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "lines_read_total",
			Help:      "Total number of lines read from a source",
		},
		[]string{"source"},
	)

	c.InputBytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from a source",
		},
		[]string{"source"},
	)

	c.InputBlankLines = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "blank_lines_total",
			Help:      "Total number of blank lines skipped",
		},
		[]string{"source"},
	)

	c.InputReadErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "read_errors_total",
			Help:      "Total number of source read errors",
		},
		[]string{"source"},
	)

	c.InputRateLimited = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited triage requests",
		},
		[]string{"client"},
	)
}

func (c *Collector) initParserMetrics() {
	c.ParserEntries = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "entries_total",
			Help:      "Total number of entries produced, by strategy",
		},
		[]string{"strategy"},
	)

	c.ParserDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "duration_seconds",
			Help:      "Time taken to parse a line",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
		},
		[]string{"strategy"},
	)
}

func (c *Collector) initRuleMetrics() {
	c.RulesLoaded = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Number of rules in the active rule set",
		},
	)

	c.RulesInvalid = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "invalid",
			Help:      "Number of rules whose regex does not compile",
		},
	)
}

func (c *Collector) initAggregationMetrics() {
	c.BucketAssignments = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "bucket_assignments_total",
			Help:      "Total number of entries assigned to a bucket",
		},
		[]string{"bucket"},
	)

	c.TagHits = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "tag_hits_total",
			Help:      "Total number of entries carrying a tag",
		},
		[]string{"tag"},
	)

	c.EntriesDropped = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "entries_dropped_total",
			Help:      "Total number of entries dropped by rules",
		},
	)

	c.EntriesElevated = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "entries_elevated_total",
			Help:      "Total number of entries elevated by rules",
		},
		[]string{"elevate"},
	)

	c.DetectorFindings = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "findings_total",
			Help:      "Total number of detector findings",
		},
		[]string{"detector", "severity"},
	)
}

func (c *Collector) initPipelineMetrics() {
	c.PipelineRuns = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of triage runs",
		},
		[]string{"status"},
	)

	c.PipelineDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Time taken to triage a source",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
		},
		[]string{"mode"},
	)

	c.PipelinePartitions = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "partitions",
			Help:      "Number of partitions per parallel run",
			Buckets:   prometheus.LinearBuckets(1, 1, 16),
		},
	)
}

func (c *Collector) initOutputMetrics() {
	c.OutputSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "reports_sent_total",
			Help:      "Total number of reports delivered to a sink",
		},
		[]string{"sink"},
	)

	c.OutputFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "reports_failed_total",
			Help:      "Total number of reports that failed to send",
		},
		[]string{"sink"},
	)

	c.OutputBytes = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to a sink",
		},
		[]string{"sink"},
	)

	c.OutputDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "duration_seconds",
			Help:      "Time taken to send a report",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"sink"},
	)

	c.OutputDeadLettered = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "reports_dead_lettered_total",
			Help:      "Total number of reports spooled to the dead letter queue",
		},
		[]string{"sink"},
	)
}

func (c *Collector) initWorkerPoolMetrics() {
	c.WorkerPoolSize = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "workers_total",
			Help:      "Current number of workers in the pool",
		},
		[]string{"pool_name"},
	)

	c.WorkerPoolJobs = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "jobs_total",
			Help:      "Total number of jobs processed",
		},
		[]string{"pool_name", "status"},
	)

	c.WorkerJobDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "job_duration_seconds",
			Help:      "Time taken to process a job",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"pool_name"},
	)
}

func (c *Collector) initServerMetrics() {
	c.ServerRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by path and status code",
		},
		[]string{"path", "code"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// Start begins collecting system metrics every interval
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	stop := make(chan struct{})
	c.stop = stop
	c.collectSystemMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// Stop stops the periodic system collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	if m.NumGC > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
