package cache

import (
	"sync/atomic"
	"time"

	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// LRUStore bounds the cache by entry count and/or total artifact bytes,
// evicting the least recently used entry first.
type LRUStore struct {
	nodes      map[Fingerprint]*lruNode
	maxEntries int
	maxBytes   int64
	size       int64
	// LRU doubly-linked list with dummy head and tail; head.next is most recent.
	head  *lruNode
	tail  *lruNode
	stats counters
}

type lruNode struct {
	entry *Entry
	prev  *lruNode
	next  *lruNode
}

var _ Store = (*LRUStore)(nil)

// NewLRU creates a bounded store. A zero bound disables that dimension.
func NewLRU(maxEntries int, maxBytes int64) *LRUStore {
	s := &LRUStore{
		nodes:      make(map[Fingerprint]*lruNode),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		head:       &lruNode{},
		tail:       &lruNode{},
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

// Lookup returns the entry for fp and marks it most recently used.
func (s *LRUStore) Lookup(fp Fingerprint) (*Entry, bool) {
	node, ok := s.nodes[fp]
	if !ok {
		atomic.AddInt64(&s.stats.misses, 1)
		return nil, false
	}
	s.moveToFront(node)
	atomic.AddInt64(&s.stats.hits, 1)
	return node.entry, true
}

// Insert stores artifact under fp. An existing entry for fp is replaced by a
// fresh one, then older entries are evicted until the bounds hold again.
func (s *LRUStore) Insert(fp Fingerprint, artifact *renderer.Artifact) {
	entry := &Entry{Fingerprint: fp, Artifact: artifact, InsertedAt: time.Now()}

	if node, ok := s.nodes[fp]; ok {
		s.size += artifact.Size() - node.entry.Artifact.Size()
		node.entry = entry
		s.moveToFront(node)
	} else {
		node := &lruNode{entry: entry}
		s.nodes[fp] = node
		s.addToFront(node)
		s.size += artifact.Size()
	}
	atomic.AddInt64(&s.stats.inserts, 1)

	s.evictIfNeeded()
	s.publishSize()
}

// evictIfNeeded removes entries from the tail until the bounds hold. The
// entry just inserted is never evicted, even if it alone exceeds maxBytes.
func (s *LRUStore) evictIfNeeded() {
	for s.overBounds() && s.tail.prev != s.head && s.tail.prev != s.head.next {
		lru := s.tail.prev
		s.removeFromList(lru)
		delete(s.nodes, lru.entry.Fingerprint)
		s.size -= lru.entry.Artifact.Size()
		atomic.AddInt64(&s.stats.evictions, 1)
	}
}

func (s *LRUStore) overBounds() bool {
	if s.maxEntries > 0 && len(s.nodes) > s.maxEntries {
		return true
	}
	return s.maxBytes > 0 && s.size > s.maxBytes
}

func (s *LRUStore) publishSize() {
	atomic.StoreInt64(&s.stats.entries, int64(len(s.nodes)))
	atomic.StoreInt64(&s.stats.bytes, s.size)
}

// Len returns the number of entries.
func (s *LRUStore) Len() int {
	return len(s.nodes)
}

// Stats returns cache statistics.
func (s *LRUStore) Stats() Stats {
	return s.stats.snapshot(PolicyLRU)
}

// Clear drops all entries and resets statistics.
func (s *LRUStore) Clear() {
	s.nodes = make(map[Fingerprint]*lruNode)
	s.size = 0
	s.head.next = s.tail
	s.tail.prev = s.head
	s.stats.reset()
}

// Keys returns fingerprints from most to least recently used.
func (s *LRUStore) Keys() []Fingerprint {
	keys := make([]Fingerprint, 0, len(s.nodes))
	for n := s.head.next; n != s.tail; n = n.next {
		keys = append(keys, n.entry.Fingerprint)
	}
	return keys
}

// LRU doubly-linked list operations
func (s *LRUStore) addToFront(node *lruNode) {
	node.prev = s.head
	node.next = s.head.next
	s.head.next.prev = node
	s.head.next = node
}

func (s *LRUStore) removeFromList(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (s *LRUStore) moveToFront(node *lruNode) {
	s.removeFromList(node)
	s.addToFront(node)
}
