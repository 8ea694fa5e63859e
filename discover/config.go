package discover

import "time"

// Default timing constants, spec.md §4.2.
const (
	DefaultPingTimeout     = 15 * time.Second
	DefaultEvictTimeout    = 15 * time.Second
	DefaultRefreshInterval = 7500 * time.Millisecond
	DefaultRetryCooldown   = 30 * time.Second
	DefaultAlpha           = 3
	DefaultMaxLoopNum      = 20
)

// Config bundles the discovery subsystem's tunables; zero fields are filled
// with the spec.md defaults by sanitize().
type Config struct {
	NetworkID       byte
	NetworkVersion  int16
	Alpha           int
	PingTimeout     time.Duration
	EvictTimeout    time.Duration
	BucketStale     time.Duration
	RefreshInterval time.Duration
	RetryCooldown   time.Duration
	MaxLoopNum      int
}

func (c *Config) sanitize() {
	if c.Alpha == 0 {
		c.Alpha = DefaultAlpha
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.EvictTimeout == 0 {
		c.EvictTimeout = DefaultEvictTimeout
	}
	if c.BucketStale == 0 {
		c.BucketStale = BucketStale
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.RetryCooldown == 0 {
		c.RetryCooldown = DefaultRetryCooldown
	}
	if c.MaxLoopNum == 0 {
		c.MaxLoopNum = DefaultMaxLoopNum
	}
}
