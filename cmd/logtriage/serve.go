package main

import (
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/health"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/security"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/server"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
)

type serveOptions struct {
	address string
	deliver bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve triage over HTTP",
		Long: `Serve accepts log lines on POST /v1/triage and answers with the triage result.
It also exposes Prometheus metrics and liveness and readiness probes.

Examples:
  logtriage serve -c config.yaml
  curl --data-binary @app.log -H 'X-API-Key: ...' localhost:8080/v1/triage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.address, "address", "", "listen address (overrides server.address)")
	flags.BoolVar(&opts.deliver, "deliver", false, "also deliver every result to the configured outputs")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	defer mgr.HandlePanic()
	ctx := mgr.Context()

	tlsConfig, err := security.LoadTLSConfig(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	profiler := profiling.New(cfg.Profiling, logger)
	if err := profiler.Start(); err != nil {
		return err
	}
	mgr.RegisterFunc(profiler.Name(), profiler.Stop)
	var debug http.Handler
	if cfg.Profiling.Enabled {
		debug = profiler.Handler()
	}

	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		collector.Start(cfg.Metrics.Interval)
		mgr.RegisterCloser("metrics", func() error {
			collector.Stop()
			return nil
		})
	}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		mgr.Shutdown()
		return err
	}
	mgr.RegisterFunc("tracing", provider.Shutdown)

	p, engine, err := buildPipeline(cfg, logger, collector, provider.Tracer())
	if err != nil {
		mgr.Shutdown()
		return err
	}

	checker := health.NewChecker(5 * time.Second)
	checker.SetMetrics(collector)
	checker.Register("rules", health.RulesCheck(engine))

	var deliverer server.Deliverer
	if opts.deliver {
		dispatcher, sinks, queue, err := buildDispatcher(ctx, cfg, logger, collector, provider.Tracer(), cmd.OutOrStdout())
		if err != nil {
			mgr.Shutdown()
			return err
		}
		if queue != nil {
			mgr.RegisterCloser("dead-letter", queue.Close)
		}
		mgr.RegisterCloser("outputs", dispatcher.Close)
		deliverer = dispatcher

		for _, sink := range sinks {
			if pinger, ok := sink.(health.Pinger); ok {
				checker.Register("output:"+sink.Name(), health.PingCheck(pinger))
			}
		}
	}

	srv, err := server.New(server.Config{
		Address:       cfg.Server.Address,
		MetricsPath:   cfg.Metrics.Path,
		APIKeys:       cfg.Server.APIKeys,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
		MaxBodySize:   cfg.Server.MaxBodySize,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		TLS:           tlsConfig,
		Debug:         debug,
		Metrics:       collector,
		HealthChecker: checker,
		Logger:        logger,
	}, p, deliverer)
	if err != nil {
		mgr.Shutdown()
		return err
	}

	if err := srv.Start(); err != nil {
		mgr.Shutdown()
		return err
	}
	// Registered last so it stops first and in-flight requests can still deliver
	mgr.RegisterFunc(srv.Name(), srv.Stop)

	logger.Info().
		Str("version", version).
		Str("address", cfg.Server.Address).
		Bool("deliver", opts.deliver).
		Msg("logtriage serving")

	mgr.WaitForSignal(syscall.SIGINT, syscall.SIGTERM)
	return mgr.Shutdown()
}
