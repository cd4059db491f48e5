package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/config"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/output"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
)

func newDLQCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay reports no output accepted",
	}
	cmd.AddCommand(newDLQListCmd(root), newDLQReplayCmd(root), newDLQClearCmd(root))
	return cmd
}

// openDLQ opens the queue in output.dead_letter.dir
func openDLQ(cfg *config.Config) (*dlq.Queue, error) {
	if cfg.Output.DeadLetter.Dir == "" {
		return nil, fmt.Errorf("output.dead_letter.dir is not configured")
	}
	return dlq.New(cfg.Output.DeadLetter)
}

func newDLQListCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load(cmd)
			if err != nil {
				return err
			}
			queue, err := openDLQ(cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			entries := queue.Entries()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				for _, e := range entries {
					e.Report = nil
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSINK\tRETRIES\tQUEUED\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.RunID, e.Sink, e.Retries, e.Timestamp.Format(time.RFC3339), e.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			stats := queue.Stats()
			fmt.Fprintf(out, "\n%d of %d slots used (%.1f%%)\n", stats.CurrentSize, stats.MaxSize, stats.Utilization())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per report, without the report body")
	return cmd
}

func newDLQReplayCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Redeliver dead-lettered reports to the outputs that rejected them",
		Long: `Replay sends every queued report to the output it was addressed to. Reports
that output accepts leave the queue; the rest stay with their retry count raised.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			queue, err := openDLQ(cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			provider, err := tracing.NewProvider(ctx, cfg.Tracing)
			if err != nil {
				return err
			}
			defer provider.Shutdown(context.Background())

			// The queue is already open here; replay must not spool into it again
			deliverCfg := *cfg
			deliverCfg.Output.DeadLetter = dlq.Config{}
			dispatcher, _, _, err := buildDispatcher(ctx, &deliverCfg, logger, nil, provider.Tracer(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer dispatcher.Close()

			pending := queue.Len()
			delivered, replayErr := queue.Replay(ctx, func(ctx context.Context, e dlq.Entry) error {
				result, err := output.Decode(e.Report)
				if err != nil {
					return err
				}
				deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout(cfg.Output.Timeout))
				defer cancel()
				return dispatcher.DispatchTo(deliverCtx, e.Sink, result)
			})

			fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d of %d reports\n", delivered, pending)
			if replayErr != nil {
				return fmt.Errorf("some reports were not delivered:\n%w", replayErr)
			}
			return nil
		},
	}
}

func newDLQClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every dead-lettered report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load(cmd)
			if err != nil {
				return err
			}
			queue, err := openDLQ(cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			n := queue.Len()
			if err := queue.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "cleared %d reports\n", n)
			return nil
		},
	}
}
