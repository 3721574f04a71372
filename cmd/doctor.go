package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/conneroisu/mermaidlive/internal/config"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/version"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the rendering environment",
	Long: `Check that mermaidlive can render diagrams on this machine.

The doctor command looks for:

- The Mermaid CLI (mmdc) and its version
- Configuration errors and questionable settings
- A free port for the preview server
- A writable directory for render output

Examples:
  mermaidlive doctor                  # Run all checks
  mermaidlive doctor --render          # Also render a sample diagram
  mermaidlive doctor -o json           # Output as JSON for tooling`,
	RunE: runDoctor,
}

var (
	doctorVerbose bool
	doctorRender  bool
	doctorFormat  OutputFormat
)

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
	statusInfo    = "info"
)

// sampleDiagram is rendered by `doctor --render`.
const sampleDiagram = "graph TD\n  A[mermaidlive] --> B[doctor]\n"

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"` // "ok", "warning", "error", "info"
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

// doctorEnv is shared by the checks. cfg is nil when the configuration
// could not be decoded at all.
type doctorEnv struct {
	cfg     *config.Config
	cfgErr  error
	mmdc    string
	version string
}

type diagnosticCheck func(context.Context, *doctorEnv) DiagnosticResult

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show verbose diagnostic information")
	doctorCmd.Flags().BoolVar(&doctorRender, "render", false, "Render a sample diagram with mmdc")
	addOutputFlag(doctorCmd, &doctorFormat)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env := &doctorEnv{}
	env.cfg, env.cfgErr = config.Decode()

	report := &DoctorReport{
		Timestamp:   time.Now(),
		Environment: gatherEnvironmentInfo(),
	}

	checks := []diagnosticCheck{
		checkConfiguration,
		checkMermaidCLI,
		checkPortAvailability,
		checkWorkDir,
	}
	if doctorRender {
		checks = append(checks, checkSampleRender)
	}

	text := doctorFormat == OutputText
	if text {
		fmt.Fprintf(out, "🔍 %s doctor\n", version.Name)
		fmt.Fprintln(out, "==================")
		fmt.Fprintln(out)
	}

	for _, check := range checks {
		result := check(ctx, env)
		report.Results = append(report.Results, result)
		if text && (doctorVerbose || result.Status != statusInfo) {
			displayResult(out, result)
		}
	}
	report.Summary = calculateSummary(report.Results)

	if text {
		fmt.Fprintln(out, "📊 Summary")
		fmt.Fprintln(out, "==========")
		displaySummary(out, report.Summary)
	} else if err := outputReport(out, report, doctorFormat); err != nil {
		return fmt.Errorf("failed to output report: %w", err)
	}

	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d of %d checks failed", report.Summary.Errors, report.Summary.Total)
	}
	return nil
}

func gatherEnvironmentInfo() map[string]string {
	env := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"version":    version.GetShortVersion(),
	}
	if wd, err := os.Getwd(); err == nil {
		env["working_dir"] = wd
	}
	if file := viper.ConfigFileUsed(); file != "" {
		env["config_file"] = file
	}
	return env
}

func checkConfiguration(_ context.Context, env *doctorEnv) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Configuration",
		Category: "Configuration",
		Status:   statusOK,
	}

	if env.cfgErr != nil {
		result.Status = statusError
		result.Message = fmt.Sprintf("Configuration could not be read: %v", env.cfgErr)
		result.Suggestion = "Check the types of the values in " + config.ConfigFileName + ".yml"
		return result
	}

	validation := config.ValidateConfigWithDetails(env.cfg)
	result.Details = map[string]interface{}{
		"debounce_interval": env.cfg.Preview.DebounceInterval.String(),
		"cache_eviction":    env.cfg.Cache.Eviction,
		"format":            env.cfg.Renderer.Format,
		"theme":             env.cfg.Renderer.Theme,
	}

	switch {
	case validation.HasErrors():
		result.Status = statusError
		result.Message = fmt.Sprintf("%d configuration errors", len(validation.Errors))
		result.Suggestion = strings.TrimSpace(validation.String())
	case validation.HasWarnings():
		result.Status = statusWarning
		result.Message = fmt.Sprintf("%d configuration warnings", len(validation.Warnings))
		result.Suggestion = strings.TrimSpace(validation.String())
	case viper.ConfigFileUsed() == "":
		result.Message = "No config file, using defaults"
	default:
		result.Message = "Configuration is valid"
	}
	return result
}

func checkMermaidCLI(ctx context.Context, env *doctorEnv) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Mermaid CLI",
		Category: "Tools",
		Status:   statusOK,
	}

	var err error
	if env.cfg != nil && env.cfg.Renderer.Command != "" {
		env.mmdc = env.cfg.Renderer.Command
		env.version, err = renderer.Version(ctx, env.mmdc)
	} else {
		env.mmdc, env.version, err = renderer.Locate(ctx)
	}
	if err != nil {
		env.mmdc = ""
		result.Status = statusError
		result.Message = "mmdc not found"
		result.Suggestion = "Install it with: npm install -g @mermaid-js/mermaid-cli, or set renderer.command"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"candidates": renderer.CandidatePaths(ctx),
		}
		return result
	}

	result.Message = fmt.Sprintf("mmdc %s", env.version)
	result.Details = map[string]interface{}{
		"path":    env.mmdc,
		"version": env.version,
	}
	return result
}

func checkPortAvailability(_ context.Context, env *doctorEnv) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Server Port",
		Category: "Network",
		Status:   statusOK,
	}
	if env.cfg == nil {
		result.Status = statusInfo
		result.Message = "Skipped, configuration unavailable"
		return result
	}

	addr := net.JoinHostPort(env.cfg.Server.Host, strconv.Itoa(env.cfg.Server.Port))
	if !isPortAvailable(addr) {
		result.Status = statusWarning
		result.Message = fmt.Sprintf("%s is in use", addr)
		result.Suggestion = "Pick another port with: mermaidlive serve --port <port>"
		return result
	}

	result.Message = fmt.Sprintf("%s is available", addr)
	return result
}

func checkWorkDir(_ context.Context, env *doctorEnv) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Work Directory",
		Category: "Filesystem",
		Status:   statusOK,
	}

	dir := os.TempDir()
	if env.cfg != nil && env.cfg.Renderer.WorkDir != "" {
		dir = env.cfg.Renderer.WorkDir
	}
	result.Details = map[string]interface{}{"path": dir}

	if err := os.MkdirAll(dir, 0750); err != nil {
		result.Status = statusError
		result.Message = fmt.Sprintf("Cannot create %s", dir)
		result.Suggestion = "Set renderer.work_dir to a writable directory"
		return result
	}
	f, err := os.CreateTemp(dir, "doctor-*")
	if err != nil {
		result.Status = statusError
		result.Message = fmt.Sprintf("%s is not writable", dir)
		result.Suggestion = "Set renderer.work_dir to a writable directory"
		return result
	}
	f.Close()
	os.Remove(f.Name())

	result.Message = fmt.Sprintf("%s is writable", dir)
	return result
}

func checkSampleRender(ctx context.Context, env *doctorEnv) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Sample Render",
		Category: "Tools",
		Status:   statusOK,
	}
	if env.mmdc == "" || env.cfg == nil {
		result.Status = statusInfo
		result.Message = "Skipped, mmdc unavailable"
		return result
	}

	mmdcConfig := env.cfg.MmdcConfig()
	mmdcConfig.Command = env.mmdc
	r, err := renderer.NewMmdcRenderer(ctx, mmdcConfig)
	if err != nil {
		result.Status = statusError
		result.Message = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	artifact, err := r.Render(ctx, sampleDiagram, renderer.DefaultOptions())
	if err != nil {
		result.Status = statusError
		result.Message = "Sample render failed"
		result.Suggestion = "If Chromium cannot start, point renderer.puppeteer_config at a config with --no-sandbox"
		result.Details = map[string]interface{}{"error": err.Error()}
		return result
	}
	if _, err := renderer.InspectSVG(artifact.Data); err != nil {
		result.Status = statusWarning
		result.Message = fmt.Sprintf("mmdc output is not a usable SVG: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("Rendered sample in %s", time.Since(start).Round(time.Millisecond))
	return result
}

func isPortAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func displayResult(out io.Writer, result DiagnosticResult) {
	var icon string
	switch result.Status {
	case statusOK:
		icon = "✅"
	case statusWarning:
		icon = "⚠️"
	case statusError:
		icon = "❌"
	case statusInfo:
		icon = "ℹ️"
	default:
		icon = "•"
	}

	fmt.Fprintf(out, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(out, "   💡 %s\n", result.Suggestion)
	}

	if doctorVerbose && len(result.Details) > 0 {
		fmt.Fprintf(out, "   📋 Details: %+v\n", result.Details)
	}

	fmt.Fprintln(out)
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{
		Total: len(results),
	}

	for _, result := range results {
		switch result.Status {
		case statusOK:
			summary.OK++
		case statusWarning:
			summary.Warnings++
		case statusError:
			summary.Errors++
		case statusInfo:
			summary.Info++
		}
	}

	return summary
}

func displaySummary(out io.Writer, summary ReportSummary) {
	fmt.Fprintf(out, "Total Checks: %d\n", summary.Total)
	fmt.Fprintf(out, "✅ OK: %d\n", summary.OK)
	fmt.Fprintf(out, "⚠️  Warnings: %d\n", summary.Warnings)
	fmt.Fprintf(out, "❌ Errors: %d\n", summary.Errors)
	if summary.Info > 0 {
		fmt.Fprintf(out, "ℹ️  Info: %d\n", summary.Info)
	}
}

func outputReport(out io.Writer, report *DoctorReport, format OutputFormat) error {
	switch format {
	case OutputJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case OutputYAML:
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
