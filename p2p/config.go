// Package p2p wires node discovery (C3/C4), DNS-based discovery (C5), and
// the connection manager/channel pipeline (C6/C7) into a single service
// (spec.md §2, §6).
package p2p

import (
	"time"

	"github.com/corenet/p2p/conn"
	"github.com/corenet/p2p/discover"
	"github.com/corenet/p2p/dnsdisc"
	"github.com/corenet/p2p/wire"
)

// DNSPublishConfig mirrors spec.md §6's dns.publish.* environment block. Only
// one of Route53/Cloudflare needs filling in, matching the Provider named by
// Provider.
type DNSPublishConfig struct {
	Enable          bool
	PrivateKeyHex   string
	Domain          string
	Provider        string // "route53" or "cloudflare"
	ChangeThreshold float64
	MaxMerge        int
	RootTTL         int
	NodeTTL         int
	PublishInterval time.Duration

	Route53    Route53Credentials
	Cloudflare CloudflareCredentials
}

// Route53Credentials carries the AWS-side dns.publish.credentials for the
// "route53" provider.
type Route53Credentials struct {
	HostedZoneID    string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// CloudflareCredentials carries the dns.publish.credentials for the
// "cloudflare" provider.
type CloudflareCredentials struct {
	APIKey string
	Email  string
	ZoneID string
}

// FrameConfig mirrors spec.md §6's frame.* environment block.
type FrameConfig struct {
	CompressionEnable bool
	MaxSize           uint32
}

// Config is the external configuration surface enumerated in spec.md §6.
type Config struct {
	Port           uint16
	NetworkID      byte
	NetworkVersion int16

	SeedNodes  []string
	ActiveNodes []string
	TrustNodes []string
	TreeURLs   []string

	MinConnections       int
	MinActiveConnections int
	MaxConnections       int
	MaxConnectionsSameIP int

	DiscoverEnable   bool
	NodeDetectEnable bool

	DNSPublish DNSPublishConfig
	Frame      FrameConfig

	PrivateKeyHex string // this node's identity key, hex-encoded secp256k1 scalar
}

// sanitize fills zero-valued fields with the defaults named throughout
// spec.md §4, matching the ambient-stack convention used by discover.Config
// and conn.ManagerConfig (SPEC_FULL "Configuration").
func (c *Config) sanitize() {
	if c.Port == 0 {
		c.Port = 30303
	}
	if c.MinConnections == 0 {
		c.MinConnections = 8
	}
	if c.MinActiveConnections == 0 {
		c.MinActiveConnections = 4
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 50
	}
	if c.MaxConnectionsSameIP == 0 {
		c.MaxConnectionsSameIP = 2
	}
	if c.Frame.MaxSize == 0 {
		c.Frame.MaxSize = 64 * 1024
	}
	if c.DNSPublish.ChangeThreshold == 0 {
		c.DNSPublish.ChangeThreshold = dnsdisc.DefaultChangeThreshold
	}
	if c.DNSPublish.MaxMerge == 0 {
		c.DNSPublish.MaxMerge = dnsdisc.DefaultMaxMerge
	}
}

func (c Config) discoverConfig() discover.Config {
	return discover.Config{NetworkID: c.NetworkID, NetworkVersion: c.NetworkVersion}
}

func (c Config) managerConfig() conn.ManagerConfig {
	return conn.ManagerConfig{
		MinConnections:       c.MinConnections,
		MinActiveConnections: c.MinActiveConnections,
		MaxConnections:       c.MaxConnections,
		MaxConnectionsSameIP: c.MaxConnectionsSameIP,
		TrustNodes:           c.TrustNodes,
		PoolInterval:         defaultPoolInterval,
		FrameCodec:           &wire.FrameCodec{MaxFrame: c.Frame.MaxSize, Compress: c.Frame.CompressionEnable},
	}
}

const defaultPoolInterval = time.Second
