package dnsprovider

import (
	"context"
	"strings"

	cf "github.com/cloudflare/cloudflare-go"

	"github.com/corenet/p2p/dnsdisc"
)

// CloudflareConfig carries the API credentials and zone this publisher
// manages. This module's second concrete DNSProvider adapter realizes the
// spec's "second provider" slot (see DESIGN.md for why Cloudflare stands in
// for the spec's AliYun mention).
type CloudflareConfig struct {
	APIKey string
	Email  string
	ZoneID string
	Domain string
}

// CloudflareProvider adapts Cloudflare's DNS API to dnsdisc.Provider.
type CloudflareProvider struct {
	api    *cf.API
	zoneID string
	domain string
}

func NewCloudflareProvider(cfg CloudflareConfig) (*CloudflareProvider, error) {
	api, err := cf.New(cfg.APIKey, cfg.Email)
	if err != nil {
		return nil, err
	}
	return &CloudflareProvider{api: api, zoneID: cfg.ZoneID, domain: cfg.Domain}, nil
}

func (p *CloudflareProvider) ListTXT(ctx context.Context, domain string) ([]dnsdisc.TXTRecord, error) {
	records, err := p.api.DNSRecords(p.zoneID, cf.DNSRecord{Type: "TXT"})
	if err != nil {
		return nil, err
	}
	var out []dnsdisc.TXTRecord
	for _, r := range records {
		name := strings.TrimSuffix(r.Name, ".")
		if !strings.HasSuffix(name, domain) {
			continue
		}
		out = append(out, dnsdisc.TXTRecord{Name: name, Values: []string{r.Content}, TTL: r.TTL})
	}
	return out, nil
}

func (p *CloudflareProvider) UpsertTXT(ctx context.Context, name string, values []string, ttl int) error {
	existing, err := p.api.DNSRecords(p.zoneID, cf.DNSRecord{Type: "TXT", Name: name})
	if err != nil {
		return err
	}
	content := strings.Join(values, "")
	if len(existing) > 0 {
		return p.api.UpdateDNSRecord(p.zoneID, existing[0].ID, cf.DNSRecord{Type: "TXT", Name: name, Content: content, TTL: ttl})
	}
	_, err = p.api.CreateDNSRecord(p.zoneID, cf.DNSRecord{Type: "TXT", Name: name, Content: content, TTL: ttl})
	return err
}

func (p *CloudflareProvider) DeleteTXT(ctx context.Context, name string) error {
	existing, err := p.api.DNSRecords(p.zoneID, cf.DNSRecord{Type: "TXT", Name: name})
	if err != nil {
		return err
	}
	for _, r := range existing {
		if err := p.api.DeleteDNSRecord(p.zoneID, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// AwaitPropagation is a no-op for Cloudflare: its API applies changes
// synchronously, unlike Route53's async change-batch model.
func (p *CloudflareProvider) AwaitPropagation(ctx context.Context, requestID string) error {
	return nil
}
