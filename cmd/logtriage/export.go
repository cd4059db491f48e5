package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/export"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

type exportOptions struct {
	query          string
	level          string
	bucket         string
	includeDropped bool
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export [files...]",
		Short: "Print the raw lines of entries matching a query",
		Long: `Export parses the input and prints the original raw line of every entry that
matches the query, level and bucket filters, one per line and byte for byte.

Examples:
  logtriage export --query timeout app.log
  logtriage export --level error --bucket auth -r rules.yaml app.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, root, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.query, "query", "q", "", "case-insensitive text the raw line must contain")
	flags.StringVarP(&opts.level, "level", "l", "", "keep only entries at this level")
	flags.StringVarP(&opts.bucket, "bucket", "b", "", "keep only entries the rules assign to this bucket")
	flags.BoolVar(&opts.includeDropped, "include-dropped", false, "keep entries a drop rule removes")

	return cmd
}

func runExport(cmd *cobra.Command, root *rootOptions, opts *exportOptions, args []string) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}

	ruleSet, err := cfg.LoadRules()
	if err != nil {
		return err
	}
	var classifier export.Classifier
	if len(ruleSet) > 0 {
		classifier = rules.New(ruleSet, logger)
	}

	filter, err := export.NewFilter(export.Query{
		Text:           opts.query,
		Level:          types.Level(opts.level),
		Bucket:         opts.bucket,
		IncludeDropped: opts.includeDropped,
	}, classifier)
	if err != nil {
		return err
	}

	chain, err := cfg.ParserChain()
	if err != nil {
		return err
	}

	// Byte-range partitions would interleave, so files are read whole
	cfg.Pipeline.Partitions = 1
	srcs, err := openSources(cfg, args, cmd.InOrStdin(), nil, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var matched []types.LogEntry
	read := 0
	for _, src := range srcs {
		for cfg.Pipeline.MaxLines == 0 || read < cfg.Pipeline.MaxLines {
			line, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				closeSources(srcs)
				return fmt.Errorf("failed to read %s: %w", src.Name(), err)
			}

			entry, ok := chain.Parse(line)
			if !ok {
				continue
			}
			read++
			if filter.Match(entry) {
				matched = append(matched, entry)
			}
		}
		src.Close()
	}

	logger.Debug().Int("matched", len(matched)).Msg("Export complete")

	if err := export.Write(cmd.OutOrStdout(), matched); err != nil {
		return err
	}
	if len(matched) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func closeSources(srcs []input.Source) {
	for _, s := range srcs {
		s.Close()
	}
}
