package preview

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/mermaidlive/internal/cache"
	previewerrors "github.com/conneroisu/mermaidlive/internal/errors"
	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// DefaultDebounceInterval is the quiet period used when none is configured.
const DefaultDebounceInterval = 500 * time.Millisecond

// Options configure a Pipeline.
type Options struct {
	DebounceInterval time.Duration
	// RenderTimeout bounds each render call; zero means no bound.
	RenderTimeout time.Duration
	// ClearOnEmpty makes an all-whitespace snapshot clear the preview
	// immediately instead of going through the gate.
	ClearOnEmpty bool
	Keywords     []string
	Render       renderer.Options
}

// Deps are the collaborators a Pipeline is built from.
type Deps struct {
	Renderer renderer.Renderer
	Cache    cache.Store
	Logger   logging.Logger
}

// Stats counts pipeline activity.
type Stats struct {
	Submitted      int64 `json:"submitted" yaml:"submitted"`
	Validations    int64 `json:"validations" yaml:"validations"`
	Rejected       int64 `json:"rejected" yaml:"rejected"`
	CacheHits      int64 `json:"cache_hits" yaml:"cache_hits"`
	RenderCalls    int64 `json:"render_calls" yaml:"render_calls"`
	StaleDiscarded int64 `json:"stale_discarded" yaml:"stale_discarded"`
	Failures       int64 `json:"failures" yaml:"failures"`
	Timeouts       int64 `json:"timeouts" yaml:"timeouts"`
}

type submitEvent struct {
	text string
}

type quietEvent struct {
	snapshot EditorSnapshot
}

type triggerEvent struct {
	reply chan error
}

type optionsEvent struct {
	opts  renderer.Options
	reply chan error
}

type resultEvent struct {
	result RenderResult
}

// Pipeline is the incremental preview pipeline. It owns the debouncer,
// gate, cache, coordinator and publisher; a single loop goroutine applies
// every state change.
type Pipeline struct {
	opts        Options
	logger      logging.Logger
	store       cache.Store
	gate        *Gate
	debouncer   *Debouncer
	coordinator *Coordinator
	publisher   *Publisher

	events  chan interface{}
	done    chan struct{}
	cancel  context.CancelFunc
	started atomic.Bool
	stop    sync.Once

	// loop-owned
	sequence   uint64
	processed  uint64
	latest     EditorSnapshot
	renderOpts renderer.Options

	source  atomic.Value // EditorSnapshot
	options atomic.Value // renderer.Options
	stats  Stats
}

// New builds a pipeline. Call Start before submitting text.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if deps.Renderer == nil {
		return nil, previewerrors.NewConfigError(previewerrors.CodeInvalidConfig, "preview pipeline needs a renderer")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewUnbounded()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultDebounceInterval
	}
	if opts.Render == (renderer.Options{}) {
		opts.Render = renderer.DefaultOptions()
	}
	if err := opts.Render.Validate(); err != nil {
		return nil, previewerrors.NewValidationError(previewerrors.CodeInvalidOptions, err.Error())
	}

	p := &Pipeline{
		opts:       opts,
		logger:     deps.Logger.WithComponent("preview"),
		store:      deps.Cache,
		gate:       NewGate(opts.Keywords),
		publisher:  NewPublisher(),
		events:     make(chan interface{}, 64),
		done:       make(chan struct{}),
		renderOpts: opts.Render,
	}
	p.debouncer = NewDebouncer(opts.DebounceInterval, func(s EditorSnapshot) {
		p.post(quietEvent{snapshot: s})
	})
	p.coordinator = NewCoordinator(deps.Renderer, deps.Cache, opts.RenderTimeout, func(r RenderResult) {
		p.post(resultEvent{result: r})
	}, p.logger)
	p.source.Store(EditorSnapshot{})
	p.options.Store(opts.Render)

	return p, nil
}

// Start runs the pipeline loop until ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop terminates the loop and waits for it to exit. A pending snapshot is
// dropped and the active render is cancelled.
func (p *Pipeline) Stop() {
	if !p.started.Load() {
		return
	}
	p.stop.Do(func() {
		p.cancel()
	})
	<-p.done
}

// Done is closed once the loop has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Submit hands the full current editor text to the pipeline.
func (p *Pipeline) Submit(text string) error {
	return p.send(submitEvent{text: text})
}

// Trigger regenerates the preview now: a pending snapshot skips the rest of
// its quiet period, otherwise the latest snapshot is processed again.
func (p *Pipeline) Trigger() error {
	reply := make(chan error, 1)
	if err := p.send(triggerEvent{reply: reply}); err != nil {
		return err
	}
	return p.await(reply)
}

// SetRenderOptions changes the options used for subsequent renders and
// re-renders the latest snapshot with them.
func (p *Pipeline) SetRenderOptions(opts renderer.Options) error {
	if err := opts.Validate(); err != nil {
		return previewerrors.NewValidationError(previewerrors.CodeInvalidOptions, err.Error())
	}
	reply := make(chan error, 1)
	if err := p.send(optionsEvent{opts: opts, reply: reply}); err != nil {
		return err
	}
	return p.await(reply)
}

// RenderOptions returns the options used for new renders.
func (p *Pipeline) RenderOptions() renderer.Options {
	return p.options.Load().(renderer.Options)
}

// Publisher returns the status publisher observers subscribe to.
func (p *Pipeline) Publisher() *Publisher {
	return p.publisher
}

// Source returns the latest snapshot accepted by the pipeline.
func (p *Pipeline) Source() EditorSnapshot {
	return p.source.Load().(EditorSnapshot)
}

// Keywords returns the diagram keywords the gate recognizes.
func (p *Pipeline) Keywords() []string {
	return p.gate.Keywords()
}

// CacheStats returns statistics of the artifact store.
func (p *Pipeline) CacheStats() cache.Stats {
	return p.store.Stats()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:      atomic.LoadInt64(&p.stats.Submitted),
		Validations:    atomic.LoadInt64(&p.stats.Validations),
		Rejected:       atomic.LoadInt64(&p.stats.Rejected),
		CacheHits:      atomic.LoadInt64(&p.stats.CacheHits),
		RenderCalls:    atomic.LoadInt64(&p.stats.RenderCalls),
		StaleDiscarded: atomic.LoadInt64(&p.stats.StaleDiscarded),
		Failures:       atomic.LoadInt64(&p.stats.Failures),
		Timeouts:       atomic.LoadInt64(&p.stats.Timeouts),
	}
}

func (p *Pipeline) send(ev interface{}) error {
	if !p.started.Load() {
		return previewerrors.ErrPipelineStopped
	}
	select {
	case <-p.done:
		return previewerrors.ErrPipelineStopped
	default:
	}
	select {
	case p.events <- ev:
		return nil
	case <-p.done:
		return previewerrors.ErrPipelineStopped
	}
}

func (p *Pipeline) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-p.done:
		return previewerrors.ErrPipelineStopped
	}
}

// post is used by the timer and render goroutines.
func (p *Pipeline) post(ev interface{}) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	p.logger.Debug(ctx, "Preview pipeline started",
		"debounce", p.opts.DebounceInterval.String(),
		"render_timeout", p.opts.RenderTimeout.String(),
	)

	for {
		select {
		case <-ctx.Done():
			p.debouncer.Stop()
			p.coordinator.CancelActive()
			p.logger.Debug(context.Background(), "Preview pipeline stopped")
			return
		case ev := <-p.events:
			p.handle(ctx, ev)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, ev interface{}) {
	switch ev := ev.(type) {
	case submitEvent:
		p.submit(ev.text)
	case quietEvent:
		// Superseded, or already taken by Trigger.
		if ev.snapshot.Sequence != p.sequence || ev.snapshot.Sequence == p.processed {
			return
		}
		p.process(ctx, ev.snapshot)
	case triggerEvent:
		p.trigger(ctx)
		ev.reply <- nil
	case optionsEvent:
		p.renderOpts = ev.opts
		p.options.Store(ev.opts)
		if p.latest.Sequence != 0 && !p.debouncer.Pending() && strings.TrimSpace(p.latest.Text) != "" {
			p.process(ctx, p.latest)
		}
		ev.reply <- nil
	case resultEvent:
		p.settle(ctx, ev.result)
	}
}

func (p *Pipeline) submit(text string) {
	p.sequence++
	snapshot := EditorSnapshot{Text: text, Sequence: p.sequence}
	p.latest = snapshot
	p.source.Store(snapshot)
	atomic.AddInt64(&p.stats.Submitted, 1)

	if p.opts.ClearOnEmpty && strings.TrimSpace(text) == "" {
		p.debouncer.Stop()
		p.coordinator.Supersede(snapshot.Sequence)
		p.publisher.clear(snapshot.Sequence)
		return
	}

	p.publisher.transition(StateDebouncing, snapshot.Sequence)
	p.debouncer.Push(snapshot)
}

func (p *Pipeline) trigger(ctx context.Context) {
	if snapshot, ok := p.debouncer.Flush(); ok {
		p.process(ctx, snapshot)
		return
	}
	if p.latest.Sequence == 0 {
		return
	}
	if p.opts.ClearOnEmpty && strings.TrimSpace(p.latest.Text) == "" {
		return
	}
	p.process(ctx, p.latest)
}

func (p *Pipeline) process(ctx context.Context, snapshot EditorSnapshot) {
	p.processed = snapshot.Sequence
	p.publisher.transition(StateValidating, snapshot.Sequence)
	atomic.AddInt64(&p.stats.Validations, 1)

	verdict := p.gate.Check(snapshot.Text)
	if !verdict.Accepted {
		atomic.AddInt64(&p.stats.Rejected, 1)
		p.logger.Debug(ctx, "Validation rejected",
			"sequence", snapshot.Sequence,
			"reason", verdict.Reason.String(),
		)
		p.publisher.transition(StateIdle, snapshot.Sequence)
		return
	}

	fp := cache.Compute(snapshot.Text, p.renderOpts.Key())
	decision := p.coordinator.Dispatch(ctx, snapshot, fp, p.renderOpts)

	switch decision.Kind {
	case DecisionCacheHit:
		atomic.AddInt64(&p.stats.CacheHits, 1)
		p.logger.Debug(ctx, "Served from cache",
			"sequence", snapshot.Sequence,
			"fingerprint", fp.Short(),
		)
		p.publisher.ready(snapshot.Sequence, fp, decision.Entry.Artifact, true)
	case DecisionDispatched:
		atomic.AddInt64(&p.stats.RenderCalls, 1)
		p.publisher.transition(StateRendering, snapshot.Sequence)
	case DecisionJoined:
		p.publisher.transition(StateRendering, snapshot.Sequence)
	}
}

func (p *Pipeline) settle(ctx context.Context, res RenderResult) {
	req := res.Request
	if previewerrors.IsTimeout(res.Err) {
		atomic.AddInt64(&p.stats.Timeouts, 1)
	}

	switch p.coordinator.Settle(res) {
	case OutcomeReady:
		p.logger.Info(ctx, "Render completed",
			"request_id", req.ID,
			"sequence", req.Sequence,
			"fingerprint", req.Fingerprint.Short(),
			"bytes", res.Artifact.Size(),
			"duration_ms", res.Elapsed.Milliseconds(),
		)
		p.publisher.ready(req.Sequence, req.Fingerprint, res.Artifact, false)
	case OutcomeFailed:
		atomic.AddInt64(&p.stats.Failures, 1)
		p.logger.Warn(ctx, res.Err, "Render failed",
			"request_id", req.ID,
			"sequence", req.Sequence,
			"duration_ms", res.Elapsed.Milliseconds(),
		)
		p.publisher.fail(req.Sequence, previewerrors.Reason(res.Err))
	case OutcomeStale:
		atomic.AddInt64(&p.stats.StaleDiscarded, 1)
		p.logger.Debug(ctx, "Stale result discarded",
			"request_id", req.ID,
			"sequence", req.Sequence,
			"latest", p.coordinator.Latest(),
		)
	}
}
