package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/watcher"
)

var (
	renderOutput string
	renderFormat renderer.Format
	renderTheme  string
	renderForce  bool
)

var renderCmd = &cobra.Command{
	Use:   "render [diagram.mmd]",
	Short: "Render a diagram once",
	Long: `Render a diagram once and write the artifact to disk.

The source is read from the file argument, or from stdin when the argument
is missing or "-". Output defaults to the input name with the format's
extension, or stdout for stdin input. Source that looks unfinished is
refused unless --force is given.

Examples:
  mermaidlive render flow.mmd                  # Writes flow.svg
  mermaidlive render flow.mmd -f png -O out.png
  cat flow.mmd | mermaidlive render > flow.svg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutput, "out", "O", "", "Output file (\"-\" for stdout)")
	renderCmd.Flags().VarP(newRenderFormatValue(&renderFormat, renderer.FormatSVG), "format", "f", "Artifact format (svg, png, pdf)")
	renderCmd.Flags().StringVar(&renderTheme, "theme", "", "Mermaid theme (default, forest, dark, neutral)")
	renderCmd.Flags().BoolVar(&renderForce, "force", false, "Render even if the source looks unfinished")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	input := "-"
	if len(args) > 0 {
		input = args[0]
	}
	source, err := readDiagram(cmd, input)
	if err != nil {
		return err
	}

	verdict := preview.NewGate(cfg.Preview.Keywords).Check(source)
	if !verdict.Accepted && !renderForce {
		return fmt.Errorf("%s looks incomplete (%s), use --force to render anyway", displayName(input), verdict.Reason)
	}

	opts := cfg.RenderOptions()
	if cmd.Flags().Changed("format") {
		opts.Format = renderFormat
	}
	if renderTheme != "" {
		opts.Theme = renderTheme
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Preview.RenderTimeout)
	defer cancel()

	mmdc, err := renderer.NewMmdcRenderer(ctx, cfg.MmdcConfig())
	if err != nil {
		return fmt.Errorf("mermaid CLI unavailable (run 'mermaidlive doctor'): %w", err)
	}

	perf := logger.StartOperation("render")
	artifact, err := mmdc.Render(ctx, source, opts)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx)

	output := renderOutput
	if output == "" {
		output = defaultOutput(input, opts.Format)
	}
	if output == "-" {
		_, err := cmd.OutOrStdout().Write(artifact.Data)
		return err
	}
	if err := os.WriteFile(output, artifact.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	summary := fmt.Sprintf("%d bytes", len(artifact.Data))
	if opts.Format == renderer.FormatSVG {
		if info, err := renderer.InspectSVG(artifact.Data); err == nil && info.Width != "" {
			summary = fmt.Sprintf("%s, %sx%s", summary, info.Width, info.Height)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✅ %s → %s (%s)\n", displayName(input), output, summary)
	return nil
}

// readDiagram reads a diagram file, or stdin for "-".
func readDiagram(cmd *cobra.Command, input string) (string, error) {
	if input != "-" {
		if err := checkDiagramPath(input); err != nil {
			return "", err
		}
		return watcher.ReadSource(input)
	}

	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), watcher.MaxSourceSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) > watcher.MaxSourceSize {
		return "", fmt.Errorf("stdin is larger than %d bytes", watcher.MaxSourceSize)
	}
	return string(data), nil
}

func defaultOutput(input string, format renderer.Format) string {
	if input == "-" {
		return "-"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(format)
}

func displayName(input string) string {
	if input == "-" {
		return "<stdin>"
	}
	return input
}
