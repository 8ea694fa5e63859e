package conn

import (
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/bloomfilter/v2"
)

// Default sizing for the rotating de-duplication filter (spec.md §4.5).
const (
	DefaultBloomN        = 200_000
	DefaultBloomFPP       = 0.01
	DefaultBloomRotation  = 2 * time.Minute
)

// RotatingBloom is a Bloom filter that periodically swaps in a fresh
// instance so memory stays bounded independent of traffic (spec.md §4.5,
// §5 "Bloom filter pointer swap": atomic replacement of an immutable
// filter instance).
type RotatingBloom struct {
	current atomic.Pointer[bloomfilter.Filter]
	n       uint64
	fpp     float64
	dup     atomic.Int64
	unique  atomic.Int64
}

func NewRotatingBloom(n uint64, fpp float64) *RotatingBloom {
	if n == 0 {
		n = DefaultBloomN
	}
	if fpp == 0 {
		fpp = DefaultBloomFPP
	}
	rb := &RotatingBloom{n: n, fpp: fpp}
	f, _ := bloomfilter.NewOptimal(n, fpp)
	rb.current.Store(f)
	return rb
}

// CheckAndAdd reports whether id was already present (a duplicate); if not,
// it is added to the current filter generation. This mirrors spec.md §4.5's
// "check, then record" dedup step.
func (rb *RotatingBloom) CheckAndAdd(id []byte) (duplicate bool) {
	f := rb.current.Load()
	h := bloomHash(id)
	if f.Contains(h) {
		rb.dup.Add(1)
		return true
	}
	f.Add(h)
	rb.unique.Add(1)
	return false
}

// bloomHash adapts a raw message-id byte slice into the hash.Hash64 the
// bloomfilter library's Add/Contains expect.
func bloomHash(id []byte) hash.Hash64 {
	h := fnv.New64a()
	h.Write(id)
	return h
}

// Rotate installs a fresh, empty filter generation. Readers holding a
// reference to the prior generation (via a Load they already performed)
// keep observing it until they Load again — the swap is atomic and does not
// invalidate in-flight reads, per spec.md §5.
func (rb *RotatingBloom) Rotate() {
	f, _ := bloomfilter.NewOptimal(rb.n, rb.fpp)
	rb.current.Store(f)
}

// RunRotation starts a background ticker that rotates the filter every
// interval until stop is closed.
func (rb *RotatingBloom) RunRotation(interval time.Duration, stop <-chan struct{}) {
	if interval == 0 {
		interval = DefaultBloomRotation
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rb.Rotate()
		}
	}
}

func (rb *RotatingBloom) Duplicates() int64 { return rb.dup.Load() }
func (rb *RotatingBloom) Unique() int64     { return rb.unique.Load() }

// SourceCache records message_id -> originating channel endpoint with a
// bound on entry count and a TTL (spec.md §4.5 "expiring cache (max
// 50k, ttl 5 min)"). Capacity is enforced by an LRU (least-recently-used
// entries fall off first), with expiry layered on top since plain LRU has no
// notion of time-based staleness: an expired entry is removed when Get finds
// it; there is no background sweep.
type SourceCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
}

type sourceEntry struct {
	channel string
	expires time.Time
}

const (
	DefaultSourceCacheMax = 50_000
	DefaultSourceCacheTTL = 5 * time.Minute
)

func NewSourceCache(max int, ttl time.Duration) *SourceCache {
	if max == 0 {
		max = DefaultSourceCacheMax
	}
	if ttl == 0 {
		ttl = DefaultSourceCacheTTL
	}
	c, _ := lru.New(max)
	return &SourceCache{cache: c, ttl: ttl}
}

// Record stores message_id -> sourceChannel, relying on the underlying LRU
// to evict the least-recently-touched entry once at capacity.
func (c *SourceCache) Record(messageID string, sourceChannel string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(messageID, sourceEntry{channel: sourceChannel, expires: now.Add(c.ttl)})
}

func (c *SourceCache) Get(messageID string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(messageID)
	if !ok {
		return "", false
	}
	e := v.(sourceEntry)
	if now.After(e.expires) {
		c.cache.Remove(messageID)
		return "", false
	}
	return e.channel, true
}
