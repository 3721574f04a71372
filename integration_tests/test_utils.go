//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/config"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/server"
	"github.com/conneroisu/mermaidlive/internal/watcher"
	ws "github.com/conneroisu/mermaidlive/internal/websocket"
)

// fakeMmdc puts the last source line, minus markup characters, into the
// SVG. Sources containing FAIL produce a mermaid-style parse error.
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
  *FAIL*)
    printf 'Error: Parse error on line 2:\nA-->B FAIL\n------^\nExpecting '"'"'EOF'"'"', got '"'"'FAIL'"'"'\n' >&2
    exit 1;;
esac
label=$(printf '%s' "$src" | tail -n 1 | tr -d '<>&"')
printf '<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><desc>%s</desc></svg>' "$label" > "$out"
`

const testOrigin = "http://localhost:8080"

// previewEnv is a complete preview stack: watched file, pipeline with the
// mmdc renderer, HTTP server and a connected browser.
type previewEnv struct {
	dir      string
	file     string
	pipeline *preview.Pipeline
	server   *httptest.Server
	conn     *websocket.Conn
	ctx      context.Context
}

func newPreviewEnv(t *testing.T, initial string) *previewEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake mmdc is a shell script")
	}

	dir := t.TempDir()
	mmdcPath := filepath.Join(dir, "mmdc")
	require.NoError(t, os.WriteFile(mmdcPath, []byte(fakeMmdc), 0755))
	file := filepath.Join(dir, "flow.mmd")
	require.NoError(t, os.WriteFile(file, []byte(initial), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	logger := logging.Discard()
	mmdc, err := renderer.NewMmdcRenderer(ctx, renderer.MmdcConfig{Command: mmdcPath, WorkDir: dir})
	require.NoError(t, err)

	pipeline, err := preview.New(preview.Options{
		DebounceInterval: 20 * time.Millisecond,
		RenderTimeout:    5 * time.Second,
		ClearOnEmpty:     true,
		Render:           renderer.DefaultOptions(),
	}, preview.Deps{
		Renderer: mmdc,
		Cache:    cache.NewLRU(16, 0),
		Logger:   logger,
	})
	require.NoError(t, err)
	pipeline.Start(ctx)
	t.Cleanup(pipeline.Stop)

	cfg := &config.Config{
		Server:     config.ServerConfig{Host: "localhost", Port: 8080},
		SourceFile: "flow.mmd",
	}
	srv, err := server.New(cfg, pipeline, logger)
	require.NoError(t, err)
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		httpServer.Close()
	})

	conn, _, err := websocket.Dial(ctx, httpServer.URL+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{testOrigin}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	fw, err := watcher.NewFileWatcher(file, logger)
	require.NoError(t, err)
	fw.AddHandler(func(event watcher.ChangeEvent) error {
		if event.Type == watcher.EventTypeDeleted {
			return nil
		}
		return pipeline.Submit(event.Content)
	})
	require.NoError(t, fw.Start(ctx))
	t.Cleanup(func() { _ = fw.Stop() })

	return &previewEnv{dir: dir, file: file, pipeline: pipeline, server: httpServer, conn: conn, ctx: ctx}
}

// write replaces the diagram file atomically, the way most editors save.
func (e *previewEnv) write(t *testing.T, content string) {
	t.Helper()
	tmp := filepath.Join(e.dir, ".flow.mmd.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, e.file))
}

// waitFor reads status messages until match accepts one.
func (e *previewEnv) waitFor(t *testing.T, match func(ws.UpdateMessage) bool) ws.UpdateMessage {
	t.Helper()
	for {
		_, data, err := e.conn.Read(e.ctx)
		require.NoError(t, err, "no matching status before timeout")

		var msg ws.UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
	}
}
