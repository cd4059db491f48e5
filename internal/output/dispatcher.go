package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
)

// SinkConfig selects and configures one sink
type SinkConfig struct {
	// Type is the sink type (stdout, file, kafka, elasticsearch, s3)
	Type string `yaml:"type"`

	File          FileConfig          `yaml:"file,omitempty"`
	Kafka         KafkaConfig         `yaml:"kafka,omitempty"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch,omitempty"`
	S3            S3Config            `yaml:"s3,omitempty"`
}

// NewSink builds the sink described by config
func NewSink(ctx context.Context, config SinkConfig) (Sink, error) {
	switch config.Type {
	case "", "stdout":
		return NewStdoutSink(), nil
	case "stderr":
		return NewWriterSink("stderr", os.Stderr, true), nil
	case "file":
		return NewFileSink(config.File)
	case "kafka":
		return NewKafkaSink(config.Kafka)
	case "elasticsearch":
		return NewElasticsearchSink(config.Elasticsearch)
	case "s3":
		return NewS3Sink(ctx, config.S3)
	default:
		return nil, fmt.Errorf("unsupported output type: %s", config.Type)
	}
}

// Dispatcher delivers each result to every sink concurrently, retrying failed sends
type Dispatcher struct {
	sinks   []Sink
	retry   reliability.RetryConfig
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	deadLetter DeadLetter
}

// DeadLetter keeps reports a sink still rejected after every retry
type DeadLetter interface {
	Enqueue(sink, runID string, report []byte, cause error) error
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithRetry sets the retry policy for each sink
func WithRetry(config reliability.RetryConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = config
	}
}

// WithTimeout bounds each send attempt
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records delivery metrics on c
func WithMetrics(c *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = c
	}
}

// WithTracer sets the tracer for output.send spans
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithDeadLetter spools reports that exhaust their retries to dl
func WithDeadLetter(dl DeadLetter) DispatcherOption {
	return func(d *Dispatcher) {
		d.deadLetter = dl
	}
}

// NewDispatcher creates a dispatcher over sinks
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) (*Dispatcher, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no outputs configured")
	}

	d := &Dispatcher{
		sinks:  sinks,
		retry:  reliability.DefaultRetryConfig(),
		logger: logging.Global(),
		tracer: otel.Tracer("logtriage"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("output")

	return d, nil
}

// Dispatch sends result to all sinks and joins their errors
func (d *Dispatcher) Dispatch(ctx context.Context, result *pipeline.Result) error {
	errs := make([]error, len(d.sinks))

	var wg sync.WaitGroup
	for i, sink := range d.sinks {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			errs[i] = d.send(ctx, sink, result, true)
		}(i, sink)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// DispatchTo sends result to the sinks named name only. Failures are not
// dead-lettered again.
func (d *Dispatcher) DispatchTo(ctx context.Context, name string, result *pipeline.Result) error {
	found := false
	var errs []error
	for _, sink := range d.sinks {
		if sink.Name() != name {
			continue
		}
		found = true
		if err := d.send(ctx, sink, result, false); err != nil {
			errs = append(errs, err)
		}
	}
	if !found {
		return fmt.Errorf("no output named %s is configured", name)
	}
	return errors.Join(errs...)
}

// Sinks returns the names of the configured sinks
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, sink := range d.sinks {
		names[i] = sink.Name()
	}
	return names
}

// send delivers to one sink under retry, recording a span and metrics
func (d *Dispatcher) send(ctx context.Context, sink Sink, result *pipeline.Result, deadLetter bool) error {
	name := sink.Name()
	data, encErr := Encode(result, false)
	size := len(data)

	ctx, span := tracing.TraceOutput(ctx, d.tracer, name, size)
	defer span.End()

	start := time.Now()
	attempts := 0
	err := reliability.Retry(ctx, d.retry, func(ctx context.Context) error {
		attempts++
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		return sink.Send(ctx, result)
	})

	if d.metrics != nil {
		d.metrics.OutputDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		if d.metrics != nil {
			d.metrics.OutputFailed.WithLabelValues(name).Inc()
		}
		d.logger.Error().Err(err).Str("sink", name).Int("attempts", attempts).Msg("Failed to deliver triage report")
		if deadLetter && d.deadLetter != nil && encErr == nil {
			d.spool(name, result, data, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	if d.metrics != nil {
		d.metrics.OutputSent.WithLabelValues(name).Inc()
		d.metrics.OutputBytes.WithLabelValues(name).Add(float64(size))
	}
	d.logger.Debug().Str("sink", name).Int("attempts", attempts).Int("bytes", size).Msg("Triage report delivered")
	return nil
}

// spool hands a rejected report to the dead letter queue
func (d *Dispatcher) spool(name string, result *pipeline.Result, data []byte, cause error) {
	runID := ""
	if result.Summary != nil {
		runID = result.Summary.RunID
	}
	if err := d.deadLetter.Enqueue(name, runID, data, cause); err != nil {
		d.logger.Error().Err(err).Str("sink", name).Str("run_id", runID).Msg("Failed to dead-letter triage report")
		return
	}
	if d.metrics != nil {
		d.metrics.OutputDeadLettered.WithLabelValues(name).Inc()
	}
	d.logger.Warn().Str("sink", name).Str("run_id", runID).Msg("Triage report dead-lettered")
}

// Close closes every sink
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
