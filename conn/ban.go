// Package conn implements the connection manager and channel pipeline
// (spec.md §2 C6/C7): admission-controlled TCP connection pool, framed wire
// pipeline, handshake/keepalive, and the deduplicating application-message
// forwarder.
package conn

import (
	"sync"
	"time"
)

// BanList is an O(1)-lookup, lazily-purged IP ban cache (spec.md §3
// "BanEntry").
type BanList struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewBanList() *BanList {
	return &BanList{expires: make(map[string]time.Time)}
}

// Ban inserts ip -> now+duration.
func (b *BanList) Ban(ip string, duration time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expires[ip] = now.Add(duration)
}

// IsBanned reports whether ip is currently banned, lazily purging it from
// the map if its ban has expired.
func (b *BanList) IsBanned(ip string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.expires[ip]
	if !ok {
		return false
	}
	if now.After(exp) {
		delete(b.expires, ip)
		return false
	}
	return true
}
