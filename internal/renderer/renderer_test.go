package renderer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mermaidlive/internal/errors"
)

const fakeMmdc = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2;;
    --version) echo "10.9.1"; exit 0;;
    *) shift;;
  esac
done
src=$(cat)
case "$src" in
  *FAIL*) echo "Parse error on line 2" >&2; exit 1;;
  *SLEEP*) exec sleep 5;;
  *EMPTY*) exit 0;;
esac
printf '<svg xmlns="http://www.w3.org/2000/svg" width="100" height="50" viewBox="0 0 100 50"><g/></svg>' > "$out"
`

func writeFakeMmdc(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake mmdc is a shell script")
	}
	path := filepath.Join(t.TempDir(), "mmdc")
	require.NoError(t, os.WriteFile(path, []byte(fakeMmdc), 0755))
	return path
}

func newTestRenderer(t *testing.T) *MmdcRenderer {
	t.Helper()
	r, err := NewMmdcRenderer(context.Background(), MmdcConfig{
		Command: writeFakeMmdc(t),
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	return r
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"svg", FormatSVG, false},
		{"PNG", FormatPNG, false},
		{" pdf ", FormatPDF, false},
		{"", FormatSVG, false},
		{"jpg", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMediaType(t *testing.T) {
	assert.Equal(t, "image/svg+xml", FormatSVG.MediaType())
	assert.Equal(t, "image/png", FormatPNG.MediaType())
	assert.Equal(t, "application/pdf", FormatPDF.MediaType())
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.Error(t, Options{Format: "gif"}.Validate())
	assert.Error(t, Options{Format: FormatSVG, Theme: "solarized"}.Validate())
	assert.Error(t, Options{Format: FormatSVG, Width: -1}.Validate())
	assert.Error(t, Options{Format: FormatSVG, Background: "white; rm -rf /"}.Validate())
}

func TestOptionsKey(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	assert.Equal(t, a.Key(), b.Key())

	b.Theme = "dark"
	assert.NotEqual(t, a.Key(), b.Key())

	assert.Equal(t, Options{}.Key(), Options{Format: FormatSVG}.Key())
}

func TestMmdcArgs(t *testing.T) {
	r := &MmdcRenderer{command: "mmdc", puppeteerConfig: "puppeteer.json"}

	args := r.args("/tmp/out.svg", Options{
		Format:     FormatSVG,
		Theme:      "forest",
		Width:      800,
		Height:     600,
		Background: "white",
	})
	assert.Equal(t, []string{
		"-i", "-", "-o", "/tmp/out.svg",
		"-w", "800", "-H", "600", "-b", "white", "-t", "forest", "-p", "puppeteer.json",
	}, args)

	args = (&MmdcRenderer{command: "mmdc"}).args("/tmp/out.png", Options{Format: FormatPNG, Background: "transparent"})
	assert.Equal(t, []string{"-i", "-", "-o", "/tmp/out.png"}, args)
}

func TestMmdcRenderSuccess(t *testing.T) {
	r := newTestRenderer(t)

	artifact, err := r.Render(context.Background(), "graph TD\nA-->B", DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, FormatSVG, artifact.Format)
	assert.Contains(t, string(artifact.Data), "<svg")
	assert.Equal(t, "100", artifact.Width)
	assert.Equal(t, "50", artifact.Height)
	assert.Equal(t, "0 0 100 50", artifact.ViewBox)
	assert.False(t, artifact.RenderedAt.IsZero())

	entries, err := os.ReadDir(r.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary output must be removed")
}

func TestMmdcRenderFailureIsVerbatim(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(context.Background(), "graph TD\nFAIL", DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.IsRenderError(err))
	assert.Equal(t, "mmdc error: Parse error on line 2", errors.Reason(err))
}

func TestMmdcRenderNoOutput(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(context.Background(), "graph TD\nEMPTY", DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, "File was not created", errors.Reason(err))
}

func TestMmdcRenderHonoursContext(t *testing.T) {
	r := newTestRenderer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Render(ctx, "graph TD\nSLEEP", DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestMmdcRenderRejectsBadInput(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(context.Background(), "   \n", DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, "Empty mermaid code provided", errors.Reason(err))

	_, err = r.Render(context.Background(), "graph TD\nA-->B", Options{Format: "gif"})
	require.Error(t, err)
	assert.True(t, errors.IsRenderError(err))
}

func TestMmdcRenderMissingExecutable(t *testing.T) {
	r := &MmdcRenderer{command: filepath.Join(t.TempDir(), "missing-mmdc"), workDir: t.TempDir()}

	_, err := r.Render(context.Background(), "graph TD\nA-->B", DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, errors.Reason(err), "Failed to start mmdc")
}

func TestLocate(t *testing.T) {
	fake := writeFakeMmdc(t)
	missing := filepath.Join(t.TempDir(), "nope")

	path, version, err := locateIn(context.Background(), []string{missing, fake})
	require.NoError(t, err)
	assert.Equal(t, fake, path)
	assert.Equal(t, "10.9.1", version)

	_, _, err = locateIn(context.Background(), []string{missing})
	require.Error(t, err)
	assert.Contains(t, errors.Reason(err), missing)
}

func TestCandidatePathsStartWithPath(t *testing.T) {
	paths := CandidatePaths(context.Background())
	require.NotEmpty(t, paths)
	assert.Equal(t, "mmdc", paths[0])
}

func TestValidateWorkDir(t *testing.T) {
	assert.NoError(t, validateWorkDir(t.TempDir()))
	assert.NoError(t, validateWorkDir(".mermaidlive/render"))
	assert.Error(t, validateWorkDir("../outside"))
}

func TestInspectSVG(t *testing.T) {
	info, err := InspectSVG([]byte(`<?xml version="1.0"?><svg id="m" width="100%" viewBox="0 0 10 20" style="max-width: 10px"><g/></svg>`))
	require.NoError(t, err)
	assert.Equal(t, "100%", info.Width)
	assert.Equal(t, "", info.Height)
	assert.Equal(t, "0 0 10 20", info.ViewBox)

	_, err = InspectSVG([]byte("<html><body>no diagram</body></html>"))
	assert.Error(t, err)

	_, err = InspectSVG(nil)
	assert.Error(t, err)
}

func TestRendererFunc(t *testing.T) {
	var r Renderer = RendererFunc(func(_ context.Context, source string, opts Options) (*Artifact, error) {
		return &Artifact{Format: opts.Format, Data: []byte(source)}, nil
	})
	a, err := r.Render(context.Background(), "x", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Size())
	assert.Equal(t, int64(0), (*Artifact)(nil).Size())
}
