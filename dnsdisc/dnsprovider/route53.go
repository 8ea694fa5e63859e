// Package dnsprovider holds concrete adapters over dnsdisc.Provider for real
// DNS APIs (spec.md §6).
package dnsprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/corenet/p2p/dnsdisc"
)

// Route53Config carries the credentials and zone identifying this
// publisher's managed hosted zone.
type Route53Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	HostedZoneID    string
}

// Route53Provider adapts Amazon Route53 to dnsdisc.Provider.
type Route53Provider struct {
	client *route53.Client
	zoneID string
}

func NewRoute53Provider(ctx context.Context, cfg Route53Config) (*Route53Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	return &Route53Provider{client: route53.NewFromConfig(awsCfg), zoneID: cfg.HostedZoneID}, nil
}

func (p *Route53Provider) ListTXT(ctx context.Context, domain string) ([]dnsdisc.TXTRecord, error) {
	var out []dnsdisc.TXTRecord
	var nextName *string
	for {
		resp, err := p.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    aws.String(p.zoneID),
			StartRecordName: nextName,
		})
		if err != nil {
			return nil, err
		}
		for _, rs := range resp.ResourceRecordSets {
			if rs.Type != types.RRTypeTxt {
				continue
			}
			name := strings.TrimSuffix(aws.ToString(rs.Name), ".")
			if !strings.HasSuffix(name, domain) {
				continue
			}
			var values []string
			for _, rr := range rs.ResourceRecords {
				values = append(values, unquoteTXT(aws.ToString(rr.Value)))
			}
			out = append(out, dnsdisc.TXTRecord{Name: name, Values: values, TTL: int(aws.ToInt64(rs.TTL))})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		nextName = resp.NextRecordName
	}
	return out, nil
}

func (p *Route53Provider) UpsertTXT(ctx context.Context, name string, values []string, ttl int) error {
	return p.changeRecord(ctx, types.ChangeActionUpsert, name, values, ttl)
}

func (p *Route53Provider) DeleteTXT(ctx context.Context, name string) error {
	return p.changeRecord(ctx, types.ChangeActionDelete, name, nil, 0)
}

func (p *Route53Provider) changeRecord(ctx context.Context, action types.ChangeAction, name string, values []string, ttl int) error {
	var records []types.ResourceRecord
	for _, v := range values {
		records = append(records, types.ResourceRecord{Value: aws.String(quoteTXT(v))})
	}
	_, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action: action,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name:            aws.String(name),
					Type:            types.RRTypeTxt,
					TTL:             aws.Int64(int64(ttl)),
					ResourceRecords: records,
				},
			}},
		},
	})
	return err
}

// AwaitPropagation makes one GetChange call and returns an error unless the
// change reports INSYNC; it does not poll. requestID here
// is the change ID returned by changeRecord, which callers thread through
// dnsdisc.Publisher's batching.
func (p *Route53Provider) AwaitPropagation(ctx context.Context, requestID string) error {
	if requestID == "" {
		return nil
	}
	resp, err := p.client.GetChange(ctx, &route53.GetChangeInput{Id: aws.String(requestID)})
	if err != nil {
		return err
	}
	if resp.ChangeInfo.Status != types.ChangeStatusInsync {
		return fmt.Errorf("route53: change %s not yet propagated (%s)", requestID, resp.ChangeInfo.Status)
	}
	return nil
}

func quoteTXT(v string) string   { return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"` }
func unquoteTXT(v string) string { return strings.Trim(v, `"`) }
