package cache

import (
	"sync/atomic"
	"time"

	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// UnboundedStore keeps every entry for the life of the process.
type UnboundedStore struct {
	entries map[Fingerprint]*Entry
	stats   counters
}

var _ Store = (*UnboundedStore)(nil)

// NewUnbounded creates a store with no eviction.
func NewUnbounded() *UnboundedStore {
	return &UnboundedStore{entries: make(map[Fingerprint]*Entry)}
}

// Lookup returns the entry for fp.
func (s *UnboundedStore) Lookup(fp Fingerprint) (*Entry, bool) {
	entry, ok := s.entries[fp]
	if !ok {
		atomic.AddInt64(&s.stats.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&s.stats.hits, 1)
	return entry, true
}

// Insert stores artifact under fp, replacing any previous entry.
func (s *UnboundedStore) Insert(fp Fingerprint, artifact *renderer.Artifact) {
	if old, ok := s.entries[fp]; ok {
		atomic.AddInt64(&s.stats.bytes, -old.Artifact.Size())
	} else {
		atomic.AddInt64(&s.stats.entries, 1)
	}
	s.entries[fp] = &Entry{Fingerprint: fp, Artifact: artifact, InsertedAt: time.Now()}
	atomic.AddInt64(&s.stats.bytes, artifact.Size())
	atomic.AddInt64(&s.stats.inserts, 1)
}

// Len returns the number of entries.
func (s *UnboundedStore) Len() int {
	return len(s.entries)
}

// Stats returns cache statistics.
func (s *UnboundedStore) Stats() Stats {
	return s.stats.snapshot(PolicyNone)
}

// Clear drops all entries and resets statistics.
func (s *UnboundedStore) Clear() {
	s.entries = make(map[Fingerprint]*Entry)
	s.stats.reset()
}
