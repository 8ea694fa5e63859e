package discover

import (
	"sync"
	"time"

	"github.com/corenet/p2p/enode"
)

// BucketSize is K in spec.md §2/§3: the maximum number of entries held by a
// single k-bucket.
const BucketSize = 16

// NodeEntry wraps a Node with the bookkeeping the routing table needs
// (spec.md §3 "NodeEntry").
type NodeEntry struct {
	Node       *enode.Node
	ModifiedAt time.Time
}

// sameEndpoint reports NodeEntry equality per spec.md §3: same Node
// (endpoint + port; ID not required).
func (e *NodeEntry) sameEndpoint(o *NodeEntry) bool {
	return e.Node.SameEndpoint(o.Node)
}

// kBucket is an ordered, oldest-first list of up to BucketSize entries.
type kBucket struct {
	mu      sync.Mutex
	entries []*NodeEntry
}

func newKBucket() *kBucket { return &kBucket{} }

func (b *kBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *kBucket) find(node *enode.Node) *NodeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.Node.SameEndpoint(node) {
			return e
		}
	}
	return nil
}

// touch moves the entry's ModifiedAt forward; it does NOT reorder the slice
// (insertion order stays oldest-first; eviction is keyed off ModifiedAt
// staleness, not position — see spec.md §3 KBucket invariants).
func (b *kBucket) touch(node *enode.Node, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.Node.SameEndpoint(node) {
			e.ModifiedAt = now
			return true
		}
	}
	return false
}

// insertResult reports what happened when trying to add an entry.
type insertResult int

const (
	insertedOK insertResult = iota
	insertedDuplicate
	insertedFull
)

// insert appends an entry if there's room, or reports fullness so the caller
// can decide about eviction (spec.md §3/§4.2 "Table insertion").
func (b *kBucket) insert(node *enode.Node, now time.Time) (insertResult, *NodeEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.Node.SameEndpoint(node) {
			e.ModifiedAt = now
			return insertedDuplicate, e
		}
	}
	if len(b.entries) < BucketSize {
		e := &NodeEntry{Node: node, ModifiedAt: now}
		b.entries = append(b.entries, e)
		return insertedOK, e
	}
	// the least recently modified entry is the candidate for eviction
	oldest := b.entries[0]
	for _, e := range b.entries[1:] {
		if e.ModifiedAt.Before(oldest.ModifiedAt) {
			oldest = e
		}
	}
	return insertedFull, oldest
}

// evict removes the given entry (by endpoint identity) from the bucket.
func (b *kBucket) evict(e *NodeEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.entries {
		if x == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// replace swaps out an existing entry for a new one in its place, preserving
// oldest-first order at the position previously held by the evicted entry.
func (b *kBucket) replace(old *NodeEntry, node *enode.Node, now time.Time) *NodeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.entries {
		if x == old {
			ne := &NodeEntry{Node: node, ModifiedAt: now}
			b.entries[i] = ne
			return ne
		}
	}
	return nil
}

func (b *kBucket) snapshot() []*NodeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*NodeEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
