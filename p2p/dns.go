package p2p

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/corenet/p2p/dnsdisc"
	"github.com/corenet/p2p/dnsdisc/dnsprovider"
	"github.com/corenet/p2p/enode"
)

// DefaultPublishInterval is how often StartDNSPublish re-diffs and
// republishes the tree (spec.md §4.3).
const DefaultPublishInterval = 10 * time.Minute

func newDNSProvider(cfg DNSPublishConfig) (dnsdisc.Provider, error) {
	switch cfg.Provider {
	case "route53":
		return dnsprovider.NewRoute53Provider(context.Background(), dnsprovider.Route53Config{
			AccessKeyID:     cfg.Route53.AccessKeyID,
			SecretAccessKey: cfg.Route53.SecretAccessKey,
			Region:          cfg.Route53.Region,
			HostedZoneID:    cfg.Route53.HostedZoneID,
		})
	case "cloudflare":
		return dnsprovider.NewCloudflareProvider(dnsprovider.CloudflareConfig{
			APIKey: cfg.Cloudflare.APIKey,
			Email:  cfg.Cloudflare.Email,
			ZoneID: cfg.Cloudflare.ZoneID,
			Domain: cfg.Domain,
		})
	default:
		return nil, fmt.Errorf("p2p: unknown dns.publish.provider %q", cfg.Provider)
	}
}

// StartDNSPublish wires a Publisher over the configured provider and
// republishes the supplied node set (typically the routing table's
// contents) on a timer until stop is closed.
func (s *Service) StartDNSPublish(stop <-chan struct{}, nodesFn func() []*enode.Node) error {
	if !s.cfg.DNSPublish.Enable {
		return nil
	}
	provider, err := newDNSProvider(s.cfg.DNSPublish)
	if err != nil {
		return err
	}
	var priv *btcec.PrivateKey
	if s.cfg.DNSPublish.PrivateKeyHex != "" {
		b, err := hex.DecodeString(s.cfg.DNSPublish.PrivateKeyHex)
		if err != nil {
			return fmt.Errorf("p2p: dns.publish.private_key: %w", err)
		}
		priv, _ = btcec.PrivKeyFromBytes(b)
	} else {
		priv = s.priv
	}

	s.DNSPublish = dnsdisc.NewPublisher(provider, dnsdisc.PublisherConfig{
		Domain:          s.cfg.DNSPublish.Domain,
		MaxMerge:        s.cfg.DNSPublish.MaxMerge,
		ChangeThreshold: s.cfg.DNSPublish.ChangeThreshold,
		RootTTL:         s.cfg.DNSPublish.RootTTL,
		NodeTTL:         s.cfg.DNSPublish.NodeTTL,
	})

	interval := s.cfg.DNSPublish.PublishInterval
	if interval == 0 {
		interval = DefaultPublishInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval/2)
				result, err := s.DNSPublish.Publish(ctx, priv, nodesFn(), nil)
				cancel()
				if err != nil {
					s.log.Warn("dns publish failed", "err", err)
					continue
				}
				if result.Applied {
					s.log.Info("dns tree republished", "seq", result.NewSeq, "ops", result.Ops)
				}
			}
		}
	}()
	return nil
}

// ResolveTreeURLs resolves every configured tree_urls entry into a merged
// node set. The service does not add these nodes to the connection
// manager's candidate sources itself.
func (s *Service) ResolveTreeURLs(ctx context.Context) ([]*enode.Node, error) {
	if s.DNSClient == nil {
		return nil, nil
	}
	var all []*enode.Node
	for _, url := range s.cfg.TreeURLs {
		domain, pub, err := parseTreeURL(url)
		if err != nil {
			s.log.Warn("skipping malformed tree url", "url", url, "err", err)
			continue
		}
		nodes, err := s.DNSClient.ResolveTree(ctx, domain, pub)
		if err != nil {
			s.log.Warn("dns resolve failed", "domain", domain, "err", err)
			continue
		}
		all = append(all, nodes...)
	}
	return all, nil
}

// parseTreeURL parses "enrtree://<base32pubkey>@<domain>" (spec.md §4.3
// "Link" entries use the same scheme for the tree's own address).
func parseTreeURL(url string) (domain string, pub *btcec.PublicKey, err error) {
	const prefix = "enrtree://"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", nil, fmt.Errorf("p2p: tree url missing %q prefix", prefix)
	}
	rest := url[len(prefix):]
	at := -1
	for i, r := range rest {
		if r == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return "", nil, fmt.Errorf("p2p: tree url missing '@' separator")
	}
	pub, err = dnsdisc.ParsePublicKeyB32(rest[:at])
	if err != nil {
		return "", nil, err
	}
	return rest[at+1:], pub, nil
}
