package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/mermaidlive/internal/cache"
	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// RenderRequest is a render call owned by the coordinator.
type RenderRequest struct {
	ID          string
	Fingerprint cache.Fingerprint
	Sequence    uint64
	StartedAt   time.Time
	cancel      context.CancelFunc
	// superseded is set once another dispatch or a cleared editor replaced
	// this request. Its result is never current after that, even when the
	// snapshot sequence still matches.
	superseded bool
}

// RenderResult is posted back to the pipeline loop when a render settles.
type RenderResult struct {
	Request  *RenderRequest
	Artifact *renderer.Artifact
	Err      error
	Elapsed  time.Duration
}

// DecisionKind says what Dispatch did with a validated snapshot.
type DecisionKind int

const (
	// DecisionCacheHit means the artifact was served from the store.
	DecisionCacheHit DecisionKind = iota
	// DecisionDispatched means a new render call was issued.
	DecisionDispatched
	// DecisionJoined means a render for the same fingerprint was already in
	// flight and now answers for this snapshot.
	DecisionJoined
)

// Decision is the result of Dispatch.
type Decision struct {
	Kind    DecisionKind
	Entry   *cache.Entry
	Request *RenderRequest
}

// Outcome classifies a settled render.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeFailed
	OutcomeStale
)

// String returns the string representation of the Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeFailed:
		return "failed"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Coordinator owns at most one in-flight render and decides whether a
// settled render is still current. A result is current only when its
// sequence is the highest one issued or served so far and no later dispatch
// replaced its request; cancellation is only a hint to the renderer.
//
// Every method must be called from the pipeline loop.
type Coordinator struct {
	renderer renderer.Renderer
	store    cache.Store
	timeout  time.Duration
	post     func(RenderResult)
	logger   logging.Logger

	active *RenderRequest
	latest uint64
}

// NewCoordinator creates a coordinator. post delivers settled renders back
// to the loop; it is called from render goroutines.
func NewCoordinator(r renderer.Renderer, store cache.Store, timeout time.Duration, post func(RenderResult), logger logging.Logger) *Coordinator {
	return &Coordinator{
		renderer: r,
		store:    store,
		timeout:  timeout,
		post:     post,
		logger:   logger,
	}
}

// Dispatch serves snapshot from the store or issues a render for it.
func (c *Coordinator) Dispatch(ctx context.Context, snapshot EditorSnapshot, fp cache.Fingerprint, opts renderer.Options) Decision {
	if snapshot.Sequence > c.latest {
		c.latest = snapshot.Sequence
	}

	if entry, ok := c.store.Lookup(fp); ok {
		// Whatever is in flight is older than this hit.
		c.CancelActive()
		return Decision{Kind: DecisionCacheHit, Entry: entry}
	}

	if c.active != nil && c.active.Fingerprint == fp {
		c.active.Sequence = snapshot.Sequence
		return Decision{Kind: DecisionJoined, Request: c.active}
	}

	c.CancelActive()

	var rctx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}

	req := &RenderRequest{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Sequence:    snapshot.Sequence,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	c.active = req

	c.logger.Debug(ctx, "Render dispatched",
		"request_id", req.ID,
		"sequence", req.Sequence,
		"fingerprint", fp.Short(),
	)

	go c.render(rctx, req, snapshot.Text, opts)

	return Decision{Kind: DecisionDispatched, Request: req}
}

type rendered struct {
	artifact *renderer.Artifact
	err      error
}

// render runs on its own goroutine. It never waits past the request
// deadline, even if the renderer ignores ctx. A cancelled request keeps
// waiting until that deadline so a late success can still be cached.
func (c *Coordinator) render(ctx context.Context, req *RenderRequest, text string, opts renderer.Options) {
	start := time.Now()
	done := make(chan rendered, 1)
	go func() {
		artifact, err := c.renderer.Render(ctx, text, opts)
		done <- rendered{artifact: artifact, err: err}
	}()

	var out rendered
	select {
	case out = <-done:
	case <-ctx.Done():
		out = c.drain(ctx, start, done)
	}

	if out.err == nil && out.artifact == nil {
		out.err = previewerrors.NewRenderError(previewerrors.CodeRenderFailed, "renderer returned no artifact", nil)
	}
	if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !previewerrors.IsTimeout(out.err) {
		out = rendered{err: previewerrors.NewTimeoutError(
			fmt.Sprintf("render timed out after %s", c.timeout), context.DeadlineExceeded)}
	}

	c.post(RenderResult{
		Request:  req,
		Artifact: out.artifact,
		Err:      out.err,
		Elapsed:  time.Since(start),
	})
}

// cancelGrace bounds the wait for a cancelled render when no render timeout
// is configured.
const cancelGrace = 15 * time.Second

// drain collects the result of a render whose context has ended.
func (c *Coordinator) drain(ctx context.Context, start time.Time, done <-chan rendered) rendered {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rendered{err: ctx.Err()}
	}

	deadline := time.Now().Add(cancelGrace)
	if c.timeout > 0 {
		deadline = start.Add(c.timeout)
	}
	grace := time.NewTimer(time.Until(deadline))
	defer grace.Stop()
	select {
	case out := <-done:
		return out
	case <-grace.C:
		return rendered{err: ctx.Err()}
	}
}

// Settle applies a render result. Successful results are cached under their
// own fingerprint even when stale; failures never are.
func (c *Coordinator) Settle(res RenderResult) Outcome {
	req := res.Request
	req.cancel()
	if c.active == req {
		c.active = nil
	}

	current := req.Sequence == c.latest && !req.superseded

	if res.Err != nil {
		if !current {
			return OutcomeStale
		}
		return OutcomeFailed
	}

	c.store.Insert(req.Fingerprint, res.Artifact)
	if !current {
		return OutcomeStale
	}
	return OutcomeReady
}

// Supersede marks sequence as the newest accepted snapshot without issuing
// a render, so anything in flight becomes stale.
func (c *Coordinator) Supersede(sequence uint64) {
	if sequence > c.latest {
		c.latest = sequence
	}
	c.CancelActive()
}

// CancelActive signals the in-flight request, if any. Its result will still
// arrive and be judged by sequence.
func (c *Coordinator) CancelActive() {
	if c.active == nil {
		return
	}
	c.active.superseded = true
	c.active.cancel()
	c.active = nil
}

// Active returns the in-flight request.
func (c *Coordinator) Active() (RenderRequest, bool) {
	if c.active == nil {
		return RenderRequest{}, false
	}
	return *c.active, true
}

// Latest returns the highest sequence issued or served.
func (c *Coordinator) Latest() uint64 {
	return c.latest
}
