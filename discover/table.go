package discover

import (
	"sort"
	"time"

	"github.com/corenet/p2p/enode"
)

// BucketStale is the default age after which a bucket entry becomes a
// candidate for eviction by a competing, fresher node (spec.md §4.2).
const BucketStale = 2 * time.Minute

// Table is the Kademlia routing table: 256 k-buckets keyed by XOR distance
// from the home node (spec.md §2 C3, §3 RoutingTable).
type Table struct {
	home    enode.ID
	buckets [256]*kBucket
	stale   time.Duration
}

func NewTable(home enode.ID) *Table {
	t := &Table{home: home, stale: BucketStale}
	for i := range t.buckets {
		t.buckets[i] = newKBucket()
	}
	return t
}

func (t *Table) bucketFor(id enode.ID) *kBucket {
	d := enode.LogDistance(t.home, id)
	if d == 0 {
		// distance 0 only occurs for the home ID itself, which never
		// appears in the table (spec.md §3 RoutingTable).
		d = 1
	}
	return t.buckets[d]
}

// BucketIndex exposes distance(home, id) for tests and callers that need the
// precise bucket index invariant (spec.md §8 invariant 2): the bucket index
// holding an entry equals distance(home_id, entry.id) exactly.
func (t *Table) BucketIndex(id enode.ID) int {
	d := enode.LogDistance(t.home, id)
	if d == 0 {
		d = 1
	}
	return d
}

// Insert tries to add an alive node to its bucket. If the bucket is full and
// every entry is younger than the staleness threshold, the new node is
// dropped (ok=false, evictCandidate=nil). If an entry is stale, it is
// returned as the eviction candidate for the caller (C4) to liveness-check
// before actually evicting (spec.md §4.2 "Table insertion").
func (t *Table) Insert(node *enode.Node, now time.Time) (ok bool, evictCandidate *NodeEntry) {
	if !node.HasID || node.ID == t.home {
		return false, nil
	}
	b := t.bucketFor(node.ID)
	res, entry := b.insert(node, now)
	switch res {
	case insertedOK, insertedDuplicate:
		return true, nil
	case insertedFull:
		if now.Sub(entry.ModifiedAt) >= t.stale {
			return false, entry
		}
		return false, nil
	}
	return false, nil
}

// ReplaceEvicted finalizes an eviction decided by the caller after a failed
// liveness check on the incumbent (spec.md §4.2 bonding "Alive -> EvictCandidate").
func (t *Table) ReplaceEvicted(incumbent *NodeEntry, candidate *enode.Node, now time.Time) *NodeEntry {
	b := t.bucketFor(incumbent.Node.ID)
	return b.replace(incumbent, candidate, now)
}

// Touch updates ModifiedAt for an already-known node (a liveness refresh that
// did not require insertion), returning false if the node isn't present.
func (t *Table) Touch(node *enode.Node, now time.Time) bool {
	if !node.HasID {
		return false
	}
	return t.bucketFor(node.ID).touch(node, now)
}

// Remove drops an entry from the table outright (e.g. on Dead transition
// after eviction).
func (t *Table) Remove(node *enode.Node) {
	if !node.HasID {
		return
	}
	b := t.bucketFor(node.ID)
	if e := b.find(node); e != nil {
		b.evict(e)
	}
}

// Closest returns up to n nodes from the table ordered by ascending XOR
// distance to target (spec.md §4.2 "Iterative lookup").
func (t *Table) Closest(target enode.ID, n int) []*enode.Node {
	all := make([]*enode.Node, 0, n*2)
	for _, b := range t.buckets {
		for _, e := range b.snapshot() {
			all = append(all, e.Node)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return enode.DistanceCmp(target, all[i].ID, all[j].ID) < 0
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Len returns the total number of entries currently held.
func (t *Table) Len() int {
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}

// BucketLen exposes a single bucket's occupancy for tests (invariant 1).
func (t *Table) BucketLen(idx int) int { return t.buckets[idx].len() }
