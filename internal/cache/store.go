// Package cache provides the content-addressed artifact store used by the
// preview pipeline.
//
// Stores map a Fingerprint to the artifact rendered for it. Entries are
// immutable once inserted: re-inserting a fingerprint replaces the entry
// instead of mutating it. Stores are not safe for concurrent mutation; the
// preview pipeline touches them only from its own loop. Statistics are kept
// in atomics so they can be read from any goroutine.
package cache

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// Entry is a cached render result.
type Entry struct {
	Fingerprint Fingerprint
	Artifact    *renderer.Artifact
	InsertedAt  time.Time
}

// Store is the CacheStore contract.
type Store interface {
	Lookup(fp Fingerprint) (*Entry, bool)
	Insert(fp Fingerprint, artifact *renderer.Artifact)
	Len() int
	Stats() Stats
	Clear()
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Policy    Policy  `json:"policy" yaml:"policy"`
	Entries   int64   `json:"entries" yaml:"entries"`
	Bytes     int64   `json:"bytes" yaml:"bytes"`
	Hits      int64   `json:"hits" yaml:"hits"`
	Misses    int64   `json:"misses" yaml:"misses"`
	Inserts   int64   `json:"inserts" yaml:"inserts"`
	Evictions int64   `json:"evictions" yaml:"evictions"`
	HitRate   float64 `json:"hit_rate" yaml:"hit_rate"`
}

// Policy selects the eviction behaviour of a store.
type Policy string

const (
	PolicyNone Policy = "none"
	PolicyLRU  Policy = "lru"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case "", PolicyNone:
		return PolicyNone, nil
	case PolicyLRU:
		return PolicyLRU, nil
	default:
		return "", fmt.Errorf("unknown cache eviction policy %q (want none or lru)", name)
	}
}

// Options configures New.
type Options struct {
	Policy     Policy
	MaxEntries int
	MaxBytes   int64
}

// New builds the store selected by opts.
func New(opts Options) (Store, error) {
	switch opts.Policy {
	case "", PolicyNone:
		return NewUnbounded(), nil
	case PolicyLRU:
		if opts.MaxEntries <= 0 && opts.MaxBytes <= 0 {
			return nil, fmt.Errorf("lru cache needs max_entries or max_bytes")
		}
		return NewLRU(opts.MaxEntries, opts.MaxBytes), nil
	default:
		return nil, fmt.Errorf("unknown cache eviction policy %q", opts.Policy)
	}
}

// counters are shared by both store implementations.
type counters struct {
	entries   int64
	bytes     int64
	hits      int64
	misses    int64
	inserts   int64
	evictions int64
}

func (c *counters) snapshot(policy Policy) Stats {
	s := Stats{
		Policy:    policy,
		Entries:   atomic.LoadInt64(&c.entries),
		Bytes:     atomic.LoadInt64(&c.bytes),
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Inserts:   atomic.LoadInt64(&c.inserts),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *counters) reset() {
	atomic.StoreInt64(&c.entries, 0)
	atomic.StoreInt64(&c.bytes, 0)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.inserts, 0)
	atomic.StoreInt64(&c.evictions, 0)
}
