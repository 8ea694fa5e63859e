package dnsdisc

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/internal/xlog"
)

// DefaultMaxMerge is the default batch size of Nodes leaves (spec.md §4.3).
const DefaultMaxMerge = 5

// DefaultChangeThreshold is the default churn-reduction gate (spec.md §4.3).
const DefaultChangeThreshold = 0.1

// PublisherConfig bundles the tunables for Build/Publish.
type PublisherConfig struct {
	Domain          string
	MaxMerge        int
	ChangeThreshold float64
	MaxOpsPerBatch  int
	NodeTTL         int
	RootTTL         int
	MaxRetries      int
}

func (c *PublisherConfig) sanitize() {
	if c.MaxMerge == 0 {
		c.MaxMerge = DefaultMaxMerge
	}
	if c.ChangeThreshold == 0 {
		c.ChangeThreshold = DefaultChangeThreshold
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.NodeTTL == 0 {
		c.NodeTTL = 3600
	}
	if c.RootTTL == 0 {
		c.RootTTL = 1800
	}
}

// BuiltTree is the fully materialized set of TXT entries for one publish
// cycle, keyed by DNS name (hash.<domain> or the apex for the root).
type BuiltTree struct {
	Root    RootEntry
	ByName  map[string][]string // name -> TXT chunk values
}

// Build constructs the tree described in spec.md §4.3 steps 1-2: batch nodes
// into Nodes leaves, compute branch hashes, and sign a new root at seq.
func Build(priv *btcec.PrivateKey, cfg PublisherConfig, nodes []*enode.Node, links []LinkEntry, seq uint64) BuiltTree {
	cfg.sanitize()
	byName := make(map[string][]string)

	dedup := dedupeByEndpoint(nodes)
	var nodeHashes []string
	for i := 0; i < len(dedup); i += cfg.MaxMerge {
		end := i + cfg.MaxMerge
		if end > len(dedup) {
			end = len(dedup)
		}
		leaf := NodesEntry{Records: dedup[i:end]}
		text := leaf.Text()
		h := Hash(text)
		byName[dnsName(h, cfg.Domain)] = []string{text}
		nodeHashes = append(nodeHashes, h)
	}
	eRoot := writeBranches(byName, nodeHashes, cfg.Domain)

	var linkHashes []string
	for _, l := range links {
		text := l.Text()
		h := Hash(text)
		byName[dnsName(h, cfg.Domain)] = []string{text}
		linkHashes = append(linkHashes, h)
	}
	lRoot := writeBranches(byName, linkHashes, cfg.Domain)

	sig := SignRoot(priv, eRoot, lRoot, seq)
	root := RootEntry{ERoot: eRoot, LRoot: lRoot, Seq: seq, Sig: sig}
	byName[cfg.Domain] = []string{root.Text()}

	return BuiltTree{Root: root, ByName: byName}
}

const defaultBranchWidth = 3

// writeBranches writes one or more levels of enrtree-branch entries over
// leafHashes until a single root hash remains, returning that hash. An empty
// leafHashes set still needs a stable pointer, so it writes an empty branch.
func writeBranches(byName map[string][]string, leafHashes []string, domain string) string {
	level := sortedHashes(leafHashes)
	if len(level) == 0 {
		b := BranchEntry{}
		text := b.Text()
		h := Hash(text)
		byName[dnsName(h, domain)] = []string{text}
		return h
	}
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += defaultBranchWidth {
			end := i + defaultBranchWidth
			if end > len(level) {
				end = len(level)
			}
			b := BranchEntry{Children: level[i:end]}
			text := b.Text()
			h := Hash(text)
			byName[dnsName(h, domain)] = []string{text}
			next = append(next, h)
		}
		level = next
	}
	return level[0]
}

func dnsName(hash, domain string) string { return hash + "." + domain }

func dedupeByEndpoint(nodes []*enode.Node) []*enode.Node {
	seen := make(map[string]bool)
	out := make([]*enode.Node, 0, len(nodes))
	for _, n := range nodes {
		key := n.Endpoint.PreferredIP().String() + ":" + itoa(int(n.Endpoint.Port))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Publisher runs the publish pipeline against a Provider: diff against the
// live TXT set, gate on change threshold, batch, and retry with backoff
// (spec.md §4.3 steps 3-4, §4.6 "DNS publish partial failure").
type Publisher struct {
	provider Provider
	cfg      PublisherConfig
	lastSeq  uint64
	log      xlog.Logger
}

func NewPublisher(provider Provider, cfg PublisherConfig) *Publisher {
	cfg.sanitize()
	return &Publisher{provider: provider, cfg: cfg, log: xlog.New("component", "dnsdisc-publish")}
}

func (p *Publisher) LastSeq() uint64 { return p.lastSeq }

// PublishResult reports what happened, distinguishing "below threshold, no
// changes made" (scenario S4) from an applied update (scenario S5).
type PublishResult struct {
	Applied bool
	NewSeq  uint64
	Ops     int
}

func (p *Publisher) Publish(ctx context.Context, priv *btcec.PrivateKey, nodes []*enode.Node, links []LinkEntry) (PublishResult, error) {
	existing, err := p.provider.ListTXT(ctx, p.cfg.Domain)
	if err != nil {
		return PublishResult{}, err
	}
	current := make(map[string][]string, len(existing))
	for _, r := range existing {
		current[r.Name] = r.Values
	}

	built := Build(priv, p.cfg, nodes, links, p.lastSeq+1)
	plan, ok := BuildPlan(current, built.ByName, p.cfg.ChangeThreshold)
	if !ok {
		p.log.Info("dns publish: below threshold, skipping", "domain", p.cfg.Domain)
		return PublishResult{Applied: false}, nil
	}

	batches := Batch(plan, p.cfg.MaxOpsPerBatch)
	for _, batch := range batches {
		if err := p.applyBatchWithRetry(ctx, batch); err != nil {
			// lastSeq is NOT incremented on exhaustion (spec.md §4.6).
			return PublishResult{}, err
		}
	}
	p.lastSeq = built.Root.Seq
	return PublishResult{Applied: true, NewSeq: p.lastSeq, Ops: len(plan)}, nil
}

func (p *Publisher) applyBatchWithRetry(ctx context.Context, batch Plan) error {
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		err = p.applyBatch(ctx, batch)
		if err == nil {
			return nil
		}
		p.log.Warn("dns publish batch failed, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (p *Publisher) applyBatch(ctx context.Context, batch Plan) error {
	reqID := uuid.NewString()
	for _, op := range batch {
		var err error
		switch op.Kind {
		case OpCreate, OpUpsert:
			err = p.provider.UpsertTXT(ctx, op.Name, op.Values, p.cfg.NodeTTL)
		case OpDelete:
			err = p.provider.DeleteTXT(ctx, op.Name)
		}
		if err != nil {
			return err
		}
	}
	return p.provider.AwaitPropagation(ctx, reqID)
}
