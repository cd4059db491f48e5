package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [files...]",
		Short: "Triage log files or stdin and deliver the summary",
		Long: `Triage reads every given file (or the configured inputs, or stdin when there
are none), classifies each entry and delivers the resulting summary to the
configured outputs. An interrupt stops reading and delivers the partial summary.

Examples:
  logtriage run /var/log/app.log
  logtriage run --rules rules.yaml --partitions 4 app.log -o report.json
  kubectl logs deploy/api | logtriage run -r rules.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTriage(cmd, opts, args)
		},
	}
}

func runTriage(cmd *cobra.Command, opts *rootOptions, args []string) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}

	mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	mgr.CancelOnSignal(syscall.SIGINT, syscall.SIGTERM)
	ctx := mgr.Context()

	// Registered first so the profile covers every other stage
	profiler := profiling.New(cfg.Profiling, logger)
	if err := profiler.Start(); err != nil {
		return err
	}
	mgr.RegisterFunc(profiler.Name(), profiler.Stop)

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		mgr.Shutdown()
		return err
	}
	mgr.RegisterFunc("tracing", provider.Shutdown)

	p, _, err := buildPipeline(cfg, logger, nil, provider.Tracer())
	if err != nil {
		mgr.Shutdown()
		return err
	}

	dispatcher, _, queue, err := buildDispatcher(ctx, cfg, logger, nil, provider.Tracer(), cmd.OutOrStdout())
	if err != nil {
		mgr.Shutdown()
		return err
	}
	if queue != nil {
		mgr.RegisterCloser("dead-letter", queue.Close)
	}
	mgr.RegisterCloser("outputs", dispatcher.Close)

	var positions input.Checkpointer
	if cfg.Input.CheckpointDir != "" {
		cm, err := checkpoint.NewManager(cfg.Input.CheckpointDir, cfg.Input.CheckpointInterval, logger)
		if err != nil {
			mgr.Shutdown()
			return err
		}
		cm.Start()
		mgr.RegisterCloser("checkpoint", cm.Stop)
		positions = cm
	}

	srcs, err := openSources(cfg, args, cmd.InOrStdin(), positions, logger)
	if err != nil {
		mgr.Shutdown()
		return err
	}

	result, runErr := p.RunPartitions(ctx, srcs)
	if result == nil {
		mgr.Shutdown()
		return runErr
	}
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			mgr.Shutdown()
			return fmt.Errorf("triage failed: %w", runErr)
		}
		logger.Warn().
			Int("total", result.Summary.Total).
			Msg("Triage interrupted, delivering partial summary")
	}

	log := logger.WithRun(result.Summary.RunID)
	log.Info().
		Int("total", result.Summary.Total).
		Int("dropped", result.Summary.Dropped).
		Int("buckets", len(result.Summary.Buckets)).
		Int("findings", len(result.Summary.Findings)).
		Msg("Triage complete")

	// The run context may already be cancelled; delivery gets its own deadline
	deliverCtx, cancel := context.WithTimeout(context.Background(), deliveryTimeout(cfg.Output.Timeout))
	defer cancel()
	deliverErr := dispatcher.Dispatch(deliverCtx, result)

	if err := mgr.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Shutdown completed with errors")
	}
	if deliverErr != nil {
		return fmt.Errorf("failed to deliver report: %w", deliverErr)
	}
	return nil
}

// deliveryTimeout bounds a whole delivery including retries
func deliveryTimeout(perAttempt time.Duration) time.Duration {
	if perAttempt <= 0 {
		return 2 * time.Minute
	}
	return 10 * perAttempt
}
