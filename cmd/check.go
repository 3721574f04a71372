package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/mermaidlive/internal/preview"
)

var checkFormat OutputFormat

var checkCmd = &cobra.Command{
	Use:   "check [diagram.mmd...]",
	Short: "Report whether diagrams would be sent to the renderer",
	Long: `Run the validity gate over diagram files without rendering them.

The gate is a cheap syntactic check that the live preview uses to skip
half-typed fragments such as a trailing arrow or an unclosed bracket.
It does not parse Mermaid: a diagram that passes may still fail to render.
Without arguments the source is read from stdin.

Examples:
  mermaidlive check flow.mmd seq.mmd
  mermaidlive check docs/*.mmd -o json
  echo "graph TD" | mermaidlive check`,
	RunE: runCheck,
}

// CheckResult is the gate verdict for one input.
type CheckResult struct {
	File     string `json:"file" yaml:"file"`
	Accepted bool   `json:"accepted" yaml:"accepted"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Keyword  string `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CheckSummary summarizes a check run.
type CheckSummary struct {
	Total    int           `json:"total" yaml:"total"`
	Accepted int           `json:"accepted" yaml:"accepted"`
	Rejected int           `json:"rejected" yaml:"rejected"`
	Results  []CheckResult `json:"results" yaml:"results"`
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addOutputFlag(checkCmd, &checkFormat)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	gate := preview.NewGate(cfg.Preview.Keywords)
	caser := cases.Title(language.English)

	summary := CheckSummary{Total: len(inputs)}
	for _, input := range inputs {
		result := CheckResult{File: displayName(input)}

		source, err := readDiagram(cmd, input)
		if err != nil {
			result.Error = err.Error()
		} else {
			verdict := gate.Check(source)
			result.Accepted = verdict.Accepted
			result.Keyword = verdict.Keyword
			if !verdict.Accepted {
				result.Reason = caser.String(verdict.Reason.String())
			}
		}

		if result.Accepted {
			summary.Accepted++
		} else {
			summary.Rejected++
		}
		summary.Results = append(summary.Results, result)
	}

	if checkFormat != OutputText {
		if err := writeStructured(cmd.OutOrStdout(), checkFormat, summary); err != nil {
			return err
		}
	} else {
		printCheckSummary(cmd, summary)
	}

	if summary.Rejected > 0 {
		return fmt.Errorf("%d of %d diagrams rejected", summary.Rejected, summary.Total)
	}
	return nil
}

func printCheckSummary(cmd *cobra.Command, summary CheckSummary) {
	out := cmd.OutOrStdout()
	for _, result := range summary.Results {
		switch {
		case result.Error != "":
			fmt.Fprintf(out, "❌ %s: %s\n", result.File, result.Error)
		case result.Accepted:
			fmt.Fprintf(out, "✅ %s (%s)\n", result.File, result.Keyword)
		default:
			fmt.Fprintf(out, "❌ %s: %s\n", result.File, result.Reason)
		}
	}
	if summary.Total > 1 {
		fmt.Fprintf(out, "\n%d checked, %d accepted, %d rejected\n", summary.Total, summary.Accepted, summary.Rejected)
	}
}
