package renderer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/conneroisu/mermaidlive/internal/errors"
)

// probeTimeout bounds each `--version` probe and the npm lookup.
const probeTimeout = 5 * time.Second

// CandidatePaths lists the places mmdc is commonly installed, most likely first.
func CandidatePaths(ctx context.Context) []string {
	paths := []string{"mmdc"}

	if npmBin := npmGlobalBin(ctx); npmBin != "" {
		paths = append(paths, filepath.Join(npmBin, "mmdc"))
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(npmBin, "mmdc.cmd"))
		}
	}

	paths = append(paths, filepath.Join("node_modules", ".bin", "mmdc"))

	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		paths = append(paths, "mmdc.cmd")
		if home != "" {
			npmDir := filepath.Join(home, "AppData", "Roaming", "npm")
			paths = append(paths, filepath.Join(npmDir, "mmdc.cmd"), filepath.Join(npmDir, "mmdc"))
		}
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "npm", "mmdc.cmd"))
		}
	case "darwin":
		if home != "" {
			paths = append(paths,
				filepath.Join(home, ".npm-global", "bin", "mmdc"),
				filepath.Join(home, ".local", "bin", "mmdc"))
		}
		paths = append(paths, "/usr/local/bin/mmdc", "/opt/homebrew/bin/mmdc")
	default:
		if home != "" {
			paths = append(paths,
				filepath.Join(home, ".npm-global", "bin", "mmdc"),
				filepath.Join(home, ".local", "bin", "mmdc"),
				filepath.Join(home, "bin", "mmdc"))
		}
		paths = append(paths, "/usr/local/bin/mmdc", "/usr/bin/mmdc")
	}

	return paths
}

// npmGlobalBin returns the bin directory next to `npm root -g`, if npm exists.
func npmGlobalBin(ctx context.Context) string {
	npm := "npm"
	if runtime.GOOS == "windows" {
		npm = "npm.cmd"
	}
	if _, err := exec.LookPath(npm); err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, npm, "root", "-g").Output()
	if err != nil {
		return ""
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return ""
	}
	bin := filepath.Join(filepath.Dir(root), "bin")
	if info, err := os.Stat(bin); err != nil || !info.IsDir() {
		return ""
	}
	return bin
}

// Version runs `<path> --version` and returns the trimmed output.
func Version(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("mmdc error at %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Locate returns the first candidate that answers `--version`.
func Locate(ctx context.Context) (path, version string, err error) {
	return locateIn(ctx, CandidatePaths(ctx))
}

func locateIn(ctx context.Context, candidates []string) (string, string, error) {
	for _, candidate := range candidates {
		v, err := Version(ctx, candidate)
		if err == nil {
			return candidate, v, nil
		}
	}
	return "", "", errors.NewRenderError(errors.CodeRendererNotFound,
		"mmdc not found. Attempted paths:\n"+strings.Join(candidates, "\n"), nil)
}
