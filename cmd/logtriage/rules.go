package main

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect triage rule sets",
	}
	cmd.AddCommand(newRulesValidateCmd(root), newRulesClassifyCmd(root))
	return cmd
}

func newRulesValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules-file]",
		Short: "Report rules that can never take effect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				root.rulesFile = args[0]
			}
			cfg, _, err := root.load(cmd)
			if err != nil {
				return err
			}

			ruleSet, err := cfg.LoadRules()
			if err != nil {
				return err
			}
			if err := rules.Validate(ruleSet); err != nil {
				return fmt.Errorf("rule set is invalid:\n%w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", len(ruleSet))
			return nil
		},
	}
}

// classification is one line of classify output
type classification struct {
	Entry          types.LogEntry       `json:"entry"`
	Classification types.Classification `json:"classification"`
}

func newRulesClassifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [lines...]",
		Short: "Show how the rule set classifies each line",
		Long: `Classify parses each argument (or each stdin line when there are none) and
prints the parsed entry with its classification as one JSON object per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}

			ruleSet, err := cfg.LoadRules()
			if err != nil {
				return err
			}
			engine := rules.New(ruleSet, logger)

			chain, err := cfg.ParserChain()
			if err != nil {
				return err
			}

			lines := args
			if len(lines) == 0 {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines = append(lines, scanner.Text())
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			for _, line := range lines {
				entry, ok := chain.Parse(line)
				if !ok {
					continue
				}
				if err := enc.Encode(classification{Entry: entry, Classification: engine.Classify(entry)}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
