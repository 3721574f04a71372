// Package preview implements the incremental preview pipeline: it turns a
// stream of raw diagram source edits into an up-to-date rendered artifact,
// coalescing bursts of keystrokes, skipping obviously incomplete input,
// memoizing renders by content and discarding results that a newer edit has
// already superseded.
//
// All pipeline state is owned by a single loop goroutine. The debounce timer
// and render calls run elsewhere but only ever post events back to the loop,
// so ordering is decided by sequence number and never by which goroutine
// finished first.
package preview

import (
	"time"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// EditorSnapshot is the full editor text at one point in time. Sequence is
// assigned by the pipeline and is the only authority for "newer than".
type EditorSnapshot struct {
	Text     string `json:"text"`
	Sequence uint64 `json:"sequence"`
}

// State is the generation state of the preview.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateValidating
	StateRendering
	StateReady
	StateError
	// StateStale marks a discarded completion; it is never published.
	StateStale
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateValidating:
		return "validating"
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is what observers receive on every transition: the state, the
// artifact currently on display and the error message, if any.
type Status struct {
	State       State              `json:"state"`
	Sequence    uint64             `json:"sequence"`
	Fingerprint cache.Fingerprint  `json:"fingerprint,omitempty"`
	Artifact    *renderer.Artifact `json:"artifact,omitempty"`
	Err         string             `json:"error,omitempty"`
	FromCache   bool               `json:"from_cache"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// HasArtifact reports whether a rendered artifact is on display.
func (s Status) HasArtifact() bool {
	return s.Artifact != nil
}
