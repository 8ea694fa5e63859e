package dnsdisc

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/internal/xlog"
)

// DefaultMaxResolveDepth bounds the recursion depth of resolution to prevent
// cycles (spec.md §4.3).
const DefaultMaxResolveDepth = 32

// TXTLookup is the minimal client-side DNS capability resolve needs: reading
// a domain's TXT record set (possibly concatenated from 255-byte chunks by
// the caller, per spec.md §4.3 "Entry formats").
type TXTLookup func(ctx context.Context, name string) (string, error)

// Client resolves a published tree starting from its root.
type Client struct {
	lookup       TXTLookup
	maxDepth     int
	lastSeenSeq  map[string]uint64 // domain -> seq, for the monotonicity check
	resolveCount int64
	log          xlog.Logger
}

func NewClient(lookup TXTLookup) *Client {
	return &Client{
		lookup:      lookup,
		maxDepth:    DefaultMaxResolveDepth,
		lastSeenSeq: make(map[string]uint64),
		log:         xlog.New("component", "dnsdisc-resolve"),
	}
}

// Stats returns the number of entry lookups walk has made across all
// resolutions; no traversal depth is recorded.
func (c *Client) Stats() (resolves int64) { return c.resolveCount }

// ResolveTree resolves the root at domain, verifies its signature against
// pub, and walks both subtrees depth-first, returning every node record
// found. It rejects a root whose seq regresses from the last one seen for
// this domain (spec.md §4.3 invariants).
func (c *Client) ResolveTree(ctx context.Context, domain string, pub *btcec.PublicKey) ([]*enode.Node, error) {
	rootText, err := c.lookup(ctx, domain)
	if err != nil {
		return nil, err
	}
	entry, err := ParseEntry(rootText)
	if err != nil {
		return nil, err
	}
	root, ok := entry.(RootEntry)
	if !ok {
		return nil, ErrBadEntry
	}
	if !VerifyRoot(pub, root) {
		return nil, ErrBadRootSig
	}
	if prev, seen := c.lastSeenSeq[domain]; seen && root.Seq < prev {
		return nil, ErrSeqNotMonotone
	}
	c.lastSeenSeq[domain] = root.Seq

	nodes, err := c.walk(ctx, domain, root.ERoot, false, 0)
	if err != nil {
		return nil, err
	}
	if _, err := c.walk(ctx, domain, root.LRoot, true, 0); err != nil {
		return nil, err
	}
	return nodes, nil
}

// walk resolves hash and its descendants depth-first, recursing into each
// branch child in order; it does not resolve level by level. inLinkTree gates
// which leaf kind is legal at this position, per spec.md §4.3: Nodes found
// under the link subtree, or Links found under the nodes subtree, are both
// errors.
func (c *Client) walk(ctx context.Context, domain, hash string, inLinkTree bool, depth int) ([]*enode.Node, error) {
	if depth > c.maxDepth {
		return nil, ErrMaxDepth
	}
	c.resolveCount++
	text, err := c.lookup(ctx, fmt.Sprintf("%s.%s", hash, domain))
	if err != nil {
		return nil, err
	}
	entry, err := ParseEntry(text)
	if err != nil {
		return nil, err
	}
	switch e := entry.(type) {
	case BranchEntry:
		var out []*enode.Node
		for _, child := range e.Children {
			if child == "" {
				continue
			}
			nodes, err := c.walk(ctx, domain, child, inLinkTree, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nodes...)
		}
		return out, nil
	case NodesEntry:
		if inLinkTree {
			return nil, ErrNodesInLinks
		}
		return e.Records, nil
	case LinkEntry:
		if !inLinkTree {
			return nil, ErrLinkInNodes
		}
		return nil, nil // a pointer to another tree; caller resolves separately
	default:
		return nil, ErrBadEntry
	}
}
