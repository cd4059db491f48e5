package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/config"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/output"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	configFile string
	rulesFile  string
	maxLines   int
	partitions int
	output     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "logtriage",
		Short: "Parse, classify and summarize application logs",
		Long: `logtriage parses heterogeneous log lines into structured entries, classifies
them with declarative triage rules, runs threat heuristics over them and
produces a JSON summary grouped into buckets.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to configuration file (defaults apply when empty)")
	flags.StringVarP(&opts.rulesFile, "rules", "r", "", "path to a YAML or JSON rules file")
	flags.IntVar(&opts.maxLines, "max-lines", 0, "entries triaged per run across all inputs, 0 for unlimited")
	flags.IntVarP(&opts.partitions, "partitions", "p", 0, "byte-range partitions per input file")
	flags.StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of the configured outputs (- for stdout)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newRunCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
		newRulesCmd(opts),
		newDLQCmd(opts),
	)

	return cmd
}

// load reads the configuration, applies flag overrides and installs the logger
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadOrDefault(o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if o.rulesFile != "" {
		cfg.RulesFile = o.rulesFile
	}
	if flags.Changed("max-lines") {
		cfg.Pipeline.MaxLines = o.maxLines
	}
	if flags.Changed("partitions") {
		cfg.Pipeline.Partitions = o.partitions
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	switch o.output {
	case "":
	case "-":
		cfg.Output.Sinks = []output.SinkConfig{{Type: "stdout"}}
	default:
		cfg.Output.Sinks = []output.SinkConfig{{Type: "file", File: output.FileConfig{Path: o.output, Pretty: true}}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	logger := logging.New(lc)
	logging.SetGlobal(logger)

	return cfg, logger, nil
}

// buildPipeline compiles the rule set and parser chain into a pipeline
func buildPipeline(cfg *config.Config, logger *logging.Logger, collector *metrics.Collector, tracer trace.Tracer) (*pipeline.Pipeline, *rules.Engine, error) {
	ruleSet, err := cfg.LoadRules()
	if err != nil {
		return nil, nil, err
	}
	engine := rules.New(ruleSet, logger)

	chain, err := cfg.ParserChain()
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithTracer(tracer)}
	if collector != nil {
		opts = append(opts, pipeline.WithMetrics(collector))
	}

	p, err := pipeline.New(cfg.PipelineConfig(), chain, engine, opts...)
	if err != nil {
		return nil, nil, err
	}

	logger.Info().
		Int("rules", engine.Len()).
		Int("invalid_rules", engine.Invalid()).
		Strs("strategies", chain.Strategies()).
		Msg("Pipeline initialized")

	return p, engine, nil
}

// buildDispatcher opens every configured sink. stdout sinks write to stdout.
// The dead letter queue is nil unless output.dead_letter.dir is set.
func buildDispatcher(ctx context.Context, cfg *config.Config, logger *logging.Logger, collector *metrics.Collector, tracer trace.Tracer, stdout io.Writer) (*output.Dispatcher, []output.Sink, *dlq.Queue, error) {
	sinks := make([]output.Sink, 0, len(cfg.Output.Sinks))
	var queue *dlq.Queue
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
		if queue != nil {
			queue.Close()
		}
	}

	for i, sc := range cfg.Output.Sinks {
		var sink output.Sink
		var err error
		if sc.Type == "" || sc.Type == "stdout" {
			sink = output.NewWriterSink("stdout", stdout, true)
		} else {
			sink, err = output.NewSink(ctx, sc)
		}
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to create output %d (%s): %w", i, sc.Type, err)
		}
		sinks = append(sinks, sink)
	}

	opts := []output.DispatcherOption{
		output.WithRetry(cfg.Output.Retry),
		output.WithTimeout(cfg.Output.Timeout),
		output.WithLogger(logger),
		output.WithTracer(tracer),
	}
	if collector != nil {
		opts = append(opts, output.WithMetrics(collector))
	}
	if cfg.Output.DeadLetter.Dir != "" {
		q, err := dlq.New(cfg.Output.DeadLetter)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		queue = q
		opts = append(opts, output.WithDeadLetter(queue))
	}

	d, err := output.NewDispatcher(sinks, opts...)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	return d, sinks, queue, nil
}

// openSources turns file arguments and the input section into line sources.
// Files are split into byte-range partitions; "-" or no input at all reads stdin.
// Followed files resume from positions when it is not nil.
func openSources(cfg *config.Config, files []string, stdin io.Reader, positions input.Checkpointer, logger *logging.Logger) ([]input.Source, error) {
	var srcs []input.Source
	fail := func(err error) ([]input.Source, error) {
		for _, s := range srcs {
			s.Close()
		}
		return nil, err
	}

	if len(files) == 0 {
		files = cfg.Input.Files
	}

	for _, path := range files {
		if path == "-" {
			srcs = append(srcs, input.NewReaderSource("stdin", stdin))
			continue
		}
		parts, err := input.SplitFile(path, cfg.Pipeline.Partitions)
		if err != nil {
			return fail(err)
		}
		srcs = append(srcs, parts...)
	}

	var followOpts []input.FollowOption
	if positions != nil {
		followOpts = append(followOpts, input.WithCheckpoint(positions))
	}
	for _, fc := range cfg.Input.Follow {
		src, err := input.NewFollowSource(fc, logger, followOpts...)
		if err != nil {
			return fail(err)
		}
		srcs = append(srcs, src)
	}

	for _, pc := range cfg.Input.Kubernetes {
		src, err := input.NewPodSource(pc, logger)
		if err != nil {
			return fail(err)
		}
		srcs = append(srcs, src)
	}

	if len(srcs) == 0 {
		srcs = append(srcs, input.NewReaderSource("stdin", stdin))
	}
	return srcs, nil
}
