// Package dnsdisc implements the EIP-1459-style signed, content-addressed
// tree of node records published and resolved via DNS TXT records (spec.md
// §2 C5, §4.3).
package dnsdisc

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/wire"
)

// HashLength is the number of base32 characters used to address a non-root
// entry (spec.md §3/§4.3).
const HashLength = 26

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Hash returns the content address of an entry's canonical text form: the
// first HashLength characters of the base32 encoding of SHA-256(text).
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	enc := b32.EncodeToString(sum[:])
	if len(enc) > HashLength {
		enc = enc[:HashLength]
	}
	return enc
}

// Entry is the tagged variant described in spec.md §3 "TreeEntry".
type Entry interface {
	isEntry()
	// Text renders the entry's canonical TXT-record text form.
	Text() string
}

type RootEntry struct {
	ERoot string
	LRoot string
	Seq   uint64
	Sig   []byte // compact recoverable signature over (ERoot, LRoot, Seq)
}

func (RootEntry) isEntry() {}

func (r RootEntry) signingPayload() string {
	return fmt.Sprintf("enrtree-root:v1 e=%s l=%s seq=%d", r.ERoot, r.LRoot, r.Seq)
}

func (r RootEntry) Text() string {
	return fmt.Sprintf("%s sig=%s", r.signingPayload(), base64.RawURLEncoding.EncodeToString(r.Sig))
}

type BranchEntry struct {
	Children []string
}

func (BranchEntry) isEntry() {}

func (b BranchEntry) Text() string {
	return "enrtree-branch:" + strings.Join(b.Children, ",")
}

type LinkEntry struct {
	PublicKeyB32 string
	Domain       string
	Sig          []byte
}

func (LinkEntry) isEntry() {}

func (l LinkEntry) Text() string {
	return fmt.Sprintf("enrtree://%s@%s", l.PublicKeyB32, l.Domain)
}

type NodesEntry struct {
	Records []*enode.Node
}

func (NodesEntry) isEntry() {}

func (n NodesEntry) Text() string {
	w := wire.NewWriter()
	w.WriteI32(int32(len(n.Records)))
	for _, rec := range n.Records {
		wire.EncodeNode(w, rec)
	}
	return "enrtree-nodes:" + base64.StdEncoding.EncodeToString(w.Bytes())
}

var (
	ErrBadEntry       = errors.New("dnsdisc: malformed tree entry")
	ErrNodesInLinks   = errors.New("dnsdisc: nodes entry found in link subtree")
	ErrLinkInNodes    = errors.New("dnsdisc: link entry found in nodes subtree")
	ErrMaxDepth       = errors.New("dnsdisc: resolution exceeded max depth")
	ErrSeqNotMonotone = errors.New("dnsdisc: root seq is not monotonically increasing")
	ErrBadRootSig     = errors.New("dnsdisc: root signature does not verify")
)

// ParseEntry parses one TXT-record string into its tagged Entry.
func ParseEntry(s string) (Entry, error) {
	switch {
	case strings.HasPrefix(s, "enrtree-root:v1 "):
		return parseRoot(s)
	case strings.HasPrefix(s, "enrtree-branch:"):
		rest := strings.TrimPrefix(s, "enrtree-branch:")
		if rest == "" {
			return BranchEntry{}, nil
		}
		return BranchEntry{Children: strings.Split(rest, ",")}, nil
	case strings.HasPrefix(s, "enrtree://"):
		return parseLink(s)
	case strings.HasPrefix(s, "enrtree-nodes:"):
		return parseNodes(s)
	default:
		return nil, ErrBadEntry
	}
}

func parseRoot(s string) (RootEntry, error) {
	var r RootEntry
	fields := strings.Fields(strings.TrimPrefix(s, "enrtree-root:v1 "))
	kv := map[string]string{}
	for _, f := range fields {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			return r, ErrBadEntry
		}
		kv[parts[0]] = parts[1]
	}
	e, l, seqStr, sigStr := kv["e"], kv["l"], kv["seq"], kv["sig"]
	if e == "" || l == "" || seqStr == "" || sigStr == "" {
		return r, ErrBadEntry
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return r, ErrBadEntry
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigStr)
	if err != nil {
		return r, ErrBadEntry
	}
	r.ERoot, r.LRoot, r.Seq, r.Sig = e, l, seq, sig
	return r, nil
}

func parseLink(s string) (LinkEntry, error) {
	var l LinkEntry
	rest := strings.TrimPrefix(s, "enrtree://")
	parts := strings.SplitN(rest, "@", 2)
	if len(parts) != 2 {
		return l, ErrBadEntry
	}
	l.PublicKeyB32, l.Domain = parts[0], parts[1]
	return l, nil
}

func parseNodes(s string) (NodesEntry, error) {
	var n NodesEntry
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "enrtree-nodes:"))
	if err != nil {
		return n, ErrBadEntry
	}
	r := wire.NewReader(raw)
	count, err := r.ReadI32()
	if err != nil || count < 0 {
		return n, ErrBadEntry
	}
	for i := int32(0); i < count; i++ {
		rec, err := wire.DecodeNode(r)
		if err != nil {
			return n, ErrBadEntry
		}
		n.Records = append(n.Records, rec)
	}
	return n, nil
}

// sortedHashes returns a deterministically ordered copy of hashes, used so
// branch fanout and root hashes are reproducible across publish runs.
func sortedHashes(hs []string) []string {
	out := append([]string{}, hs...)
	sort.Strings(out)
	return out
}
