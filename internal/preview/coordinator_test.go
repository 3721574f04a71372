package preview

import (
	"context"
	"testing"
	"time"

	"github.com/conneroisu/mermaidlive/internal/cache"
	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorHarness struct {
	coordinator *Coordinator
	store       *cache.UnboundedStore
	renderer    *fakeRenderer
	results     chan RenderResult
	opts        renderer.Options
}

func newCoordinatorHarness(timeout time.Duration) *coordinatorHarness {
	h := &coordinatorHarness{
		store:    cache.NewUnbounded(),
		renderer: newFakeRenderer(),
		results:  make(chan RenderResult, 8),
		opts:     renderer.DefaultOptions(),
	}
	h.coordinator = NewCoordinator(h.renderer, h.store, timeout, func(r RenderResult) {
		h.results <- r
	}, logging.Discard())
	return h
}

func (h *coordinatorHarness) dispatch(text string, seq uint64) Decision {
	fp := cache.Compute(text, h.opts.Key())
	return h.coordinator.Dispatch(context.Background(), EditorSnapshot{Text: text, Sequence: seq}, fp, h.opts)
}

func (h *coordinatorHarness) next(t *testing.T) RenderResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no render result")
		return RenderResult{}
	}
}

func TestCoordinatorMissThenHit(t *testing.T) {
	h := newCoordinatorHarness(0)
	text := "graph TD\nA-->B"

	d := h.dispatch(text, 1)
	require.Equal(t, DecisionDispatched, d.Kind)
	active, ok := h.coordinator.Active()
	require.True(t, ok)
	assert.Equal(t, uint64(1), active.Sequence)
	assert.NotEmpty(t, active.ID)

	res := h.next(t)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(res))
	_, ok = h.coordinator.Active()
	assert.False(t, ok)

	d = h.dispatch(text, 2)
	require.Equal(t, DecisionCacheHit, d.Kind)
	assert.Same(t, res.Artifact, d.Entry.Artifact)
	assert.Equal(t, uint64(2), h.coordinator.Latest())
	assert.Len(t, h.renderer.Calls(), 1)
}

func TestCoordinatorStaleSuccessIsCachedButNotCurrent(t *testing.T) {
	h := newCoordinatorHarness(0)
	older, newer := "graph TD\nA-->B", "graph TD\nB-->C"
	release := h.renderer.hold(older)

	h.dispatch(older, 1)
	h.dispatch(newer, 2)

	res := h.next(t)
	assert.Equal(t, uint64(2), res.Request.Sequence)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(res))

	release()
	res = h.next(t)
	assert.Equal(t, uint64(1), res.Request.Sequence)
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(res))

	_, ok := h.store.Lookup(cache.Compute(older, h.opts.Key()))
	assert.True(t, ok, "stale success is still valid for its own fingerprint")
}

func TestCoordinatorCacheHitSupersedesActive(t *testing.T) {
	h := newCoordinatorHarness(0)
	cached, slow := "graph TD\nA-->B", "graph TD\nB-->C"

	h.dispatch(cached, 1)
	h.coordinator.Settle(h.next(t))

	release := h.renderer.hold(slow)
	h.dispatch(slow, 2)
	d := h.dispatch(cached, 3)
	assert.Equal(t, DecisionCacheHit, d.Kind)

	release()
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(h.next(t)))
}

func TestCoordinatorFailureIsNotCached(t *testing.T) {
	h := newCoordinatorHarness(0)
	text := "graph TD\nA-->FAIL"

	h.dispatch(text, 1)
	res := h.next(t)
	assert.Equal(t, OutcomeFailed, h.coordinator.Settle(res))
	assert.Equal(t, "mmdc error: Parse error on line 2", previewerrors.Reason(res.Err))
	assert.Equal(t, 0, h.store.Len())

	d := h.dispatch(text, 2)
	assert.Equal(t, DecisionDispatched, d.Kind)
	h.coordinator.Settle(h.next(t))
	assert.Len(t, h.renderer.Calls(), 2)
}

func TestCoordinatorStaleFailureIsDiscarded(t *testing.T) {
	h := newCoordinatorHarness(0)
	failing := "graph TD\nA-->FAIL"
	release := h.renderer.hold(failing)

	h.dispatch(failing, 1)
	h.dispatch("graph TD\nA-->B", 2)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(h.next(t)))

	release()
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(h.next(t)))
}

func TestCoordinatorJoinsSameFingerprint(t *testing.T) {
	h := newCoordinatorHarness(0)
	text := "graph TD\nA-->B"
	release := h.renderer.hold(text)

	first := h.dispatch(text, 1)
	second := h.dispatch(text, 2)
	assert.Equal(t, DecisionJoined, second.Kind)
	assert.Same(t, first.Request, second.Request)

	release()
	res := h.next(t)
	assert.Equal(t, uint64(2), res.Request.Sequence)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(res))
	assert.Len(t, h.renderer.Calls(), 1)
}

func TestCoordinatorTimeout(t *testing.T) {
	h := newCoordinatorHarness(30 * time.Millisecond)
	text := "graph TD\nA-->B"
	release := h.renderer.hold(text)
	defer release()

	h.dispatch(text, 1)
	res := h.next(t)

	assert.True(t, previewerrors.IsTimeout(res.Err))
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeFailed, h.coordinator.Settle(res))

	// The next request is not blocked by the abandoned one.
	d := h.dispatch("graph TD\nB-->C", 2)
	assert.Equal(t, DecisionDispatched, d.Kind)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(h.next(t)))
}

func TestCoordinatorSupersede(t *testing.T) {
	h := newCoordinatorHarness(0)
	text := "graph TD\nA-->B"
	release := h.renderer.hold(text)

	h.dispatch(text, 1)
	h.coordinator.Supersede(2)
	_, ok := h.coordinator.Active()
	assert.False(t, ok)

	release()
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(h.next(t)))
}

func TestCoordinatorRedispatchSupersedesSameSequence(t *testing.T) {
	h := newCoordinatorHarness(0)
	text := "graph TD\nA-->B"
	release := h.renderer.holdTheme(h.opts.Theme)
	defer release()

	first := h.dispatch(text, 1)

	dark := h.opts
	dark.Theme = "dark"
	snapshot := EditorSnapshot{Text: text, Sequence: 1}
	d := h.coordinator.Dispatch(context.Background(), snapshot, cache.Compute(text, dark.Key()), dark)
	require.Equal(t, DecisionDispatched, d.Kind)

	res := h.next(t)
	assert.Same(t, d.Request, res.Request)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(res))

	release()
	res = h.next(t)
	assert.Same(t, first.Request, res.Request)
	assert.Equal(t, uint64(1), res.Request.Sequence)
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(res))
}

func TestCoordinatorCancelledRenderIsNotAwaitedPastDeadline(t *testing.T) {
	h := newCoordinatorHarness(50 * time.Millisecond)
	slow := "graph TD\nA-->B"
	release := h.renderer.hold(slow)
	defer release()

	h.dispatch(slow, 1)
	h.dispatch("graph TD\nB-->C", 2)
	assert.Equal(t, OutcomeReady, h.coordinator.Settle(h.next(t)))

	res := h.next(t)
	assert.Equal(t, uint64(1), res.Request.Sequence)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, OutcomeStale, h.coordinator.Settle(res))
}
