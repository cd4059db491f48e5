package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/detect"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/fingerprint"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/parser"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/worker"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

const (
	DefaultTopIssues = 10
	DefaultRanked    = 20
)

// Config controls a triage run
type Config struct {
	MaxLines  int // Entries triaged per run across all partitions, 0 for unlimited
	Workers   int // Parallel partitions in flight, defaults to the partition count
	SampleCap int
	TopIssues int
	Ranked    int
	Detectors []detect.ThresholdConfig
}

// Result is the outcome of one triage run
type Result struct {
	Summary   *types.Summary      `json:"summary"`
	TopIssues []fingerprint.Issue `json:"topIssues"`
	Ranked    []detect.Scored     `json:"ranked"`
}

// Pipeline parses, fingerprints, classifies and aggregates log lines. A
// Pipeline is safe for concurrent runs; each run owns its own state.
type Pipeline struct {
	config  Config
	chain   *parser.Chain
	engine  *rules.Engine
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	clock   func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records run metrics on c
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.metrics = c
	}
}

// WithTracer sets the tracer used for run and partition spans
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithClock sets the summary clock
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// New creates a pipeline. Detector configurations are validated up front.
func New(config Config, chain *parser.Chain, engine *rules.Engine, opts ...Option) (*Pipeline, error) {
	if chain == nil {
		return nil, fmt.Errorf("parser chain is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("rule engine is required")
	}
	if config.TopIssues <= 0 {
		config.TopIssues = DefaultTopIssues
	}
	if config.Ranked <= 0 {
		config.Ranked = DefaultRanked
	}
	if config.MaxLines < 0 {
		return nil, fmt.Errorf("max lines must be non-negative")
	}
	if _, err := detect.NewSetFromConfig(config.Detectors); err != nil {
		return nil, fmt.Errorf("invalid detector configuration: %w", err)
	}

	p := &Pipeline{
		config: config,
		chain:  chain,
		engine: engine,
		logger: logging.Global(),
		tracer: otel.Tracer("logtriage"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("pipeline")

	if p.metrics != nil {
		p.metrics.RulesLoaded.Set(float64(engine.Len()))
		p.metrics.RulesInvalid.Set(float64(engine.Invalid()))
	}

	return p, nil
}

// Run triages a single source sequentially. The source is always closed.
// On cancellation the partial result is returned together with the context error.
func (p *Pipeline) Run(ctx context.Context, src input.Source) (*Result, error) {
	start := time.Now()
	ctx, span := tracing.TraceRun(ctx, p.tracer, "sequential", 1)
	defer span.End()

	st := p.newPartial("")
	err := p.consume(ctx, src, st, newBudget(p.config.MaxLines))
	if err != nil {
		tracing.RecordError(ctx, err)
	}

	result := p.finish(st)
	p.observeRun("sequential", start, result, err)
	return result, err
}

// RunPartitions triages each source as an independent partition on the
// worker pool and merges the partial results in source order. Every source is closed.
func (p *Pipeline) RunPartitions(ctx context.Context, srcs []input.Source) (*Result, error) {
	if len(srcs) == 0 {
		return p.finish(p.newPartial("")), nil
	}
	if len(srcs) == 1 {
		return p.Run(ctx, srcs[0])
	}

	start := time.Now()
	ctx, span := tracing.TraceRun(ctx, p.tracer, "parallel", len(srcs))
	defer span.End()

	runID := uuid.NewString()
	partials := make([]*partial, len(srcs))
	for i := range partials {
		partials[i] = p.newPartial(runID)
	}

	workers := p.config.Workers
	if workers <= 0 || workers > len(srcs) {
		workers = len(srcs)
	}
	// A capped run claims entries in partition order, so it keeps the
	// same prefix as a sequential pass over the concatenated input
	if p.config.MaxLines > 0 {
		workers = 1
	}
	limit := newBudget(p.config.MaxLines)

	pool, err := worker.NewWorkerPool(worker.PoolConfig{NumWorkers: workers, QueueSize: len(srcs)},
		func(ctx context.Context, i int) error {
			pctx, pspan := tracing.TracePartition(ctx, p.tracer, i, srcs[i].Name())
			defer pspan.End()

			err := p.consume(pctx, srcs[i], partials[i], limit)
			pspan.SetAttributes(attribute.Int("partition.entries", partials[i].entries))
			if err != nil {
				tracing.RecordError(pctx, err)
			}
			return err
		})
	if err != nil {
		closeAll(srcs)
		return nil, err
	}

	pool.Start()
	runErr := pool.RunAll(ctx, len(srcs))
	pool.Stop()

	if p.metrics != nil {
		m := pool.Metrics()
		p.metrics.WorkerPoolSize.WithLabelValues("pipeline").Set(float64(m.NumWorkers))
		p.metrics.WorkerPoolJobs.WithLabelValues("pipeline", "processed").Add(float64(m.JobsProcessed))
		p.metrics.WorkerPoolJobs.WithLabelValues("pipeline", "failed").Add(float64(m.JobsFailed))
		p.metrics.PipelinePartitions.Observe(float64(len(srcs)))
	}

	// Sources whose job never ran still need closing
	closeAll(srcs)

	merged := partials[0]
	for _, other := range partials[1:] {
		if err := merged.merge(other); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if runErr != nil {
		tracing.RecordError(ctx, runErr)
	}

	result := p.finish(merged)
	p.observeRun("parallel", start, result, runErr)
	return result, runErr
}

// budget is the run-wide entry cap shared by every partition
type budget struct {
	limit int64
	used  atomic.Int64
}

func newBudget(limit int) *budget {
	return &budget{limit: int64(limit)}
}

// take claims one entry, false once the cap is spent
func (b *budget) take() bool {
	if b.limit == 0 {
		return true
	}
	if b.used.Add(1) > b.limit {
		b.used.Add(-1)
		return false
	}
	return true
}

func (b *budget) spent() bool {
	return b.limit > 0 && b.used.Load() >= b.limit
}

// consume reads src to the end, the run's entry cap, or cancellation
func (p *Pipeline) consume(ctx context.Context, src input.Source, st *partial, limit *budget) error {
	defer src.Close()

	name := src.Name()
	for !limit.spent() {
		line, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() == nil && p.metrics != nil {
				p.metrics.InputReadErrors.WithLabelValues(name).Inc()
			}
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		if !p.process(name, line, st, limit) {
			break
		}
	}

	p.logger.Debug().Str("source", name).Int("max_lines", p.config.MaxLines).Msg("Entry limit reached")
	return nil
}

// process runs one line through parse, fingerprint, classify and aggregate.
// It reports false when the line parsed but the entry cap was already spent.
func (p *Pipeline) process(source, line string, st *partial, limit *budget) bool {
	if p.metrics != nil {
		p.metrics.InputLinesRead.WithLabelValues(source).Inc()
		p.metrics.InputBytesRead.WithLabelValues(source).Add(float64(len(line)))
	}

	began := time.Now()
	entry, strategy, ok := p.chain.ParseNamed(line)
	if !ok {
		if p.metrics != nil {
			p.metrics.InputBlankLines.WithLabelValues(source).Inc()
		}
		return true
	}
	if !limit.take() {
		return false
	}
	if p.metrics != nil {
		p.metrics.ParserEntries.WithLabelValues(strategy).Inc()
		p.metrics.ParserDuration.WithLabelValues(strategy).Observe(time.Since(began).Seconds())
	}

	st.entries++
	st.issues.Add(entry)
	st.detectors.Observe(entry)

	cls := p.engine.Classify(entry)
	st.agg.Add(entry, cls)
	if cls.Drop {
		if p.metrics != nil {
			p.metrics.EntriesDropped.Inc()
		}
		return true
	}

	st.queue.Push(entry, cls.Elevate)

	if p.metrics != nil {
		for _, b := range cls.Buckets {
			p.metrics.BucketAssignments.WithLabelValues(b).Inc()
		}
		for _, tag := range cls.Tags {
			p.metrics.TagHits.WithLabelValues(tag).Inc()
		}
		if cls.Elevate != "" {
			p.metrics.EntriesElevated.WithLabelValues(cls.Elevate).Inc()
		}
	}
	return true
}

// finish attaches detector findings and builds the result
func (p *Pipeline) finish(st *partial) *Result {
	findings := st.detectors.Results()
	st.agg.AddFindings(findings...)

	if p.metrics != nil {
		for _, f := range findings {
			p.metrics.DetectorFindings.WithLabelValues(f.Name, string(f.Severity)).Inc()
		}
	}

	return &Result{
		Summary:   st.agg.Summary(),
		TopIssues: st.issues.Top(p.config.TopIssues),
		Ranked:    st.queue.Items(),
	}
}

func (p *Pipeline) observeRun(mode string, start time.Time, result *Result, err error) {
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "error"
	}

	if p.metrics != nil {
		p.metrics.PipelineRuns.WithLabelValues(status).Inc()
		p.metrics.PipelineDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}

	event := p.logger.Info()
	if err != nil {
		event = p.logger.Warn().Err(err)
	}
	event.
		Str("run_id", result.Summary.RunID).
		Str("mode", mode).
		Int("total", result.Summary.Total).
		Int("dropped", result.Summary.Dropped).
		Int("buckets", len(result.Summary.Buckets)).
		Int("findings", len(result.Summary.Findings)).
		Dur("duration", time.Since(start)).
		Msg("Triage run completed")
}

func closeAll(srcs []input.Source) {
	for _, src := range srcs {
		src.Close()
	}
}
