package preview

import (
	"context"
	"strings"
	"sync"
	"time"

	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// fakeRenderer records calls. Sources containing FAIL fail with an mmdc-like
// message; sources or themes registered with hold block until released. Held
// renders ignore ctx unless honourCancel was called.
type fakeRenderer struct {
	mu         sync.Mutex
	calls      []string
	holds      map[string]chan struct{}
	themeHolds map[string]chan struct{}
	honoursCtx bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		holds:      make(map[string]chan struct{}),
		themeHolds: make(map[string]chan struct{}),
	}
}

func (f *fakeRenderer) hold(source string) (release func()) {
	return f.addHold(f.holds, source)
}

func (f *fakeRenderer) holdTheme(theme string) (release func()) {
	return f.addHold(f.themeHolds, theme)
}

func (f *fakeRenderer) addHold(holds map[string]chan struct{}, key string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	holds[key] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// honourCancel makes held renders return ctx.Err() when ctx ends, the way
// the mmdc renderer does.
func (f *fakeRenderer) honourCancel() {
	f.mu.Lock()
	f.honoursCtx = true
	f.mu.Unlock()
}

func (f *fakeRenderer) Render(ctx context.Context, source string, opts renderer.Options) (*renderer.Artifact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, source)
	hold := f.holds[source]
	if hold == nil {
		hold = f.themeHolds[opts.Theme]
	}
	honoursCtx := f.honoursCtx
	f.mu.Unlock()

	if hold != nil {
		if honoursCtx {
			select {
			case <-hold:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-hold
		}
	}

	if strings.Contains(source, "FAIL") {
		return nil, previewerrors.NewRenderError(previewerrors.CodeRenderFailed, "mmdc error: Parse error on line 2", nil)
	}

	return &renderer.Artifact{
		Format:     opts.Format,
		Data:       []byte(`<svg data-theme="` + opts.Theme + `">` + source + `</svg>`),
		RenderedAt: time.Now(),
	}, nil
}

func (f *fakeRenderer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
