package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/mermaidlive/internal/errors"
)

const waitDelay = 2 * time.Second

// MmdcConfig configures the Mermaid CLI renderer.
type MmdcConfig struct {
	// Command is the mmdc executable. Empty means discover it with Locate.
	Command string
	// WorkDir receives the temporary output files. Empty means os.TempDir().
	WorkDir string
	// PuppeteerConfig is passed to mmdc with -p when set.
	PuppeteerConfig string
}

// MmdcRenderer renders diagrams by running the Mermaid CLI.
type MmdcRenderer struct {
	command         string
	workDir         string
	puppeteerConfig string
}

var _ Renderer = (*MmdcRenderer)(nil)

// NewMmdcRenderer creates a renderer, locating mmdc when no command is configured.
func NewMmdcRenderer(ctx context.Context, cfg MmdcConfig) (*MmdcRenderer, error) {
	command := cfg.Command
	if command == "" {
		found, _, err := Locate(ctx)
		if err != nil {
			return nil, err
		}
		command = found
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := validateWorkDir(workDir); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, err.Error())
	}
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return nil, errors.NewIOError("WORKDIR_CREATE_FAILED", "failed to create work directory "+workDir, err)
	}

	return &MmdcRenderer{
		command:         command,
		workDir:         workDir,
		puppeteerConfig: cfg.PuppeteerConfig,
	}, nil
}

// Command returns the mmdc executable in use.
func (r *MmdcRenderer) Command() string {
	return r.command
}

// Render writes source to mmdc's stdin and reads the artifact back from a
// temporary output file, which is always removed afterwards.
func (r *MmdcRenderer) Render(ctx context.Context, source string, opts Options) (*Artifact, error) {
	start := time.Now()

	if strings.TrimSpace(source) == "" {
		return nil, errors.NewRenderError(errors.CodeRenderFailed, "Empty mermaid code provided", nil)
	}
	if opts.Format == "" {
		opts.Format = FormatSVG
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.NewRenderError(errors.CodeInvalidOptions, err.Error(), err)
	}

	out, err := os.CreateTemp(r.workDir, "mermaidlive-*."+string(opts.Format))
	if err != nil {
		return nil, errors.NewIOError("OUTPUT_CREATE_FAILED", "failed to create output file", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, r.command, r.args(outPath, opts)...)
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// mmdc drives a headless browser; don't wait forever on its children's pipes.
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, errors.NewRenderError(errors.CodeRendererNotFound,
			fmt.Sprintf("Failed to start mmdc: %v", err), err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.NewRenderError(errors.CodeRenderFailed, "mmdc error: "+msg, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.NewIOError("OUTPUT_READ_FAILED", "failed to read rendered output", err)
	}
	if len(data) == 0 {
		return nil, errors.NewRenderError(errors.CodeRenderFailed, "File was not created", nil)
	}

	artifact := &Artifact{
		Format:     opts.Format,
		Data:       data,
		RenderedAt: time.Now(),
		Elapsed:    time.Since(start),
	}

	if opts.Format == FormatSVG {
		info, err := InspectSVG(data)
		if err != nil {
			return nil, errors.NewRenderError(errors.CodeRenderFailed, "mmdc produced invalid svg: "+err.Error(), err)
		}
		artifact.Width = info.Width
		artifact.Height = info.Height
		artifact.ViewBox = info.ViewBox
	}

	return artifact, nil
}

// args builds the mmdc command line; source is always read from stdin.
func (r *MmdcRenderer) args(outPath string, opts Options) []string {
	args := []string{"-i", "-", "-o", outPath}

	if opts.Width > 0 {
		args = append(args, "-w", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "-H", strconv.Itoa(opts.Height))
	}
	if bg := strings.TrimSpace(opts.Background); bg != "" && bg != "transparent" {
		args = append(args, "-b", bg)
	}
	if opts.Theme != "" {
		args = append(args, "-t", opts.Theme)
	}
	if r.puppeteerConfig != "" {
		args = append(args, "-p", r.puppeteerConfig)
	}

	return args
}

// validateWorkDir rejects relative work directories that climb out of the
// current directory.
func validateWorkDir(workDir string) error {
	cleanPath := filepath.Clean(workDir)
	if filepath.IsAbs(cleanPath) {
		return nil
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("work directory contains directory traversal: %s", workDir)
	}
	return nil
}
