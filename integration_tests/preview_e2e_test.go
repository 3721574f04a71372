//go:build integration
// +build integration

package integration_tests

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/conneroisu/mermaidlive/internal/websocket"
)

func readyWith(label string) func(ws.UpdateMessage) bool {
	return func(msg ws.UpdateMessage) bool {
		return msg.State == "ready" && strings.Contains(msg.Content, "<desc>"+label+"</desc>")
	}
}

func TestFileEditsReachBrowser(t *testing.T) {
	env := newPreviewEnv(t, "graph TD\nA-->B\n")

	first := env.waitFor(t, readyWith("A--B"))
	assert.False(t, first.FromCache)

	env.write(t, "graph TD\nA-->C\n")
	second := env.waitFor(t, readyWith("A--C"))
	assert.Greater(t, second.Sequence, first.Sequence)

	env.write(t, "graph TD\nA-->B\n")
	again := env.waitFor(t, readyWith("A--B"))
	assert.True(t, again.FromCache)
	assert.Equal(t, first.Fingerprint, again.Fingerprint)

	stats := env.pipeline.Stats()
	assert.Equal(t, int64(2), stats.RenderCalls)
	assert.GreaterOrEqual(t, stats.CacheHits, int64(1))
}

func TestFragmentsAreNotRendered(t *testing.T) {
	env := newPreviewEnv(t, "graph TD\nA-->B\n")
	env.waitFor(t, readyWith("A--B"))

	env.write(t, "graph TD\nA-->B\nB-->")
	require.Eventually(t, func() bool {
		return env.pipeline.Stats().Rejected > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), env.pipeline.Stats().RenderCalls)

	// The last good diagram stays on display.
	resp, err := http.Get(env.server.URL + "/artifact")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<desc>A--B</desc>")
}

func TestParseErrorReported(t *testing.T) {
	env := newPreviewEnv(t, "graph TD\nA-->B\n")
	env.waitFor(t, readyWith("A--B"))

	env.write(t, "graph TD\nA-->B FAIL\n")
	failed := env.waitFor(t, func(msg ws.UpdateMessage) bool { return msg.State == "error" })

	assert.Contains(t, failed.Error, "Parse error on line 2")
	require.NotNil(t, failed.Diagnostic)
	assert.Equal(t, 2, failed.Diagnostic.Line)
	assert.Equal(t, "'EOF'", failed.Diagnostic.Expecting)

	env.write(t, "graph TD\nA-->D\n")
	env.waitFor(t, readyWith("A--D"))
}

func TestWatchedFilePageIsReadOnly(t *testing.T) {
	env := newPreviewEnv(t, "graph TD\nA-->B\n")
	env.waitFor(t, readyWith("A--B"))

	resp, err := http.Get(env.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "readonly")
	assert.Contains(t, string(page), "flow.mmd - mermaidlive")
	assert.Contains(t, string(page), "A--&gt;B")
}
