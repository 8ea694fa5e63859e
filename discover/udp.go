package discover

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/sync/errgroup"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// PacketConn is the UDP transport abstraction, satisfied by *net.UDPConn and
// by fakes in tests.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Transport runs the Kademlia-style discovery protocol over a single UDP
// socket: bonding, iterative lookups, and periodic refresh (spec.md §2 C4,
// §4.2).
type Transport struct {
	conn  PacketConn
	priv  *btcec.PrivateKey
	home  enode.ID
	table *Table
	cfg   Config
	log   xlog.Logger

	mu       sync.Mutex
	handlers map[string]*NodeHandler

	oversized atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

func NewTransport(conn PacketConn, priv *btcec.PrivateKey, home enode.ID, table *Table, cfg Config) *Transport {
	cfg.sanitize()
	return &Transport{
		conn:     conn,
		priv:     priv,
		home:     home,
		table:    table,
		cfg:      cfg,
		log:      xlog.New("component", "discover"),
		handlers: make(map[string]*NodeHandler),
		closeCh:  make(chan struct{}),
	}
}

// OversizedPackets reports the running count used by S3 in spec.md §8.
func (t *Transport) OversizedPackets() int64 { return t.oversized.Load() }

// Serve runs the UDP read loop until Close is called. Meant to be invoked in
// its own goroutine by the owning service.
func (t *Transport) Serve() {
	buf := make([]byte, wire.MaxUDPPacket+1)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			t.log.Warn("udp read error", "err", err)
			return
		}
		if n < wire.MinUDPPacket || n > wire.MaxUDPPacket {
			t.oversized.Add(1)
			continue // spec.md §4.1: dropped silently, no state change
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		t.handlePacket(pkt, addr)
	}
}

func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		_ = t.conn.Close()
	})
	t.wg.Wait()
}

func (t *Transport) handlerFor(addr net.Addr) *NodeHandler {
	key := addr.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handlers[key]
	if !ok {
		h = newNodeHandler(nil)
		t.handlers[key] = h
	}
	return h
}

func (t *Transport) handlePacket(pkt []byte, addr net.Addr) {
	pub, body, err := openPacket(pkt)
	if err != nil {
		t.log.Debug("discovery: malformed packet", "from", addr, "err", err)
		return // spec.md §4.1: discovery decode errors drop the datagram
	}
	msg, err := wire.DecodeDiscoveryPacket(body)
	if err != nil {
		t.log.Debug("discovery: malformed body", "from", addr, "err", err)
		return
	}
	fromID := enode.PublicKeyToID(pub)
	now := time.Now()
	handler := t.handlerFor(addr)

	switch m := msg.(type) {
	case *wire.KadPing:
		t.onPing(handler, fromID, m, addr, now)
	case *wire.KadPong:
		t.onPong(handler, fromID, m, addr, now)
	case *wire.KadFindNode:
		t.onFindNode(fromID, m, addr, now)
	case *wire.KadNeighbors:
		t.onNeighbors(handler, m, now)
	}
}

// onPing always replies with KAD_PONG regardless of bonding state (spec.md
// §4.2: "A KAD_PING received in any state triggers an immediate KAD_PONG
// reply, independent of bonding state").
func (t *Transport) onPing(h *NodeHandler, fromID enode.ID, m *wire.KadPing, addr net.Addr, now time.Time) {
	pong := &wire.KadPong{NetworkID: t.cfg.NetworkID, NetworkVersion: t.cfg.NetworkVersion, Timestamp: now.Unix()}
	t.send(addr, pong.Encode())

	if h.node == nil {
		n := *m.From
		n.ID = fromID
		n.HasID = true
		n.Endpoint = endpointFromAddr(addr, m.From.Endpoint.Port)
		h.node = &n
	}
	if h.State() == StateDiscovered {
		h.markPingSent(now) // a ping we receive also bonds us to them
	}
}

func (t *Transport) onPong(h *NodeHandler, fromID enode.ID, m *wire.KadPong, addr net.Addr, now time.Time) {
	if h.node == nil {
		return // pong with no prior ping sent; nothing to bond
	}
	if !h.onPong(m.NetworkID, m.NetworkVersion, &t.cfg, now) {
		return
	}
	h.node.NetworkID = m.NetworkID
	h.node.NetworkVersion = m.NetworkVersion
	ok, evictCandidate := t.table.Insert(h.node, now)
	if !ok && evictCandidate != nil {
		t.challengeIncumbent(evictCandidate, h.node, now)
	}
	if !ok && evictCandidate == nil {
		// bucket full, nothing stale enough: drop the new node, per
		// spec.md §4.2 "Table insertion".
		return
	}
	_ = ok
}

func (t *Transport) onFindNode(fromID enode.ID, m *wire.KadFindNode, addr net.Addr, now time.Time) {
	neighbors := t.table.Closest(m.Target, wire.MaxNeighbors)
	reply := &wire.KadNeighbors{
		From:      t.selfNode(),
		Neighbors: neighbors,
		Timestamp: now.Unix(),
	}
	t.send(addr, reply.Encode())
}

func (t *Transport) onNeighbors(h *NodeHandler, m *wire.KadNeighbors, now time.Time) {
	if !h.acceptsNeighborsReply(m.Timestamp) {
		return
	}
	for _, n := range m.Neighbors {
		if !n.HasID || n.ID == t.home {
			continue
		}
		t.bondUnknown(n, now)
	}
}

// challengeIncumbent re-pings the incumbent of a full bucket and marks it
// EvictCandidate (spec.md §4.2 "Alive -> EvictCandidate"); a pong returns it
// to Alive. Transport never calls checkTimeout or Table.ReplaceEvicted, so an
// incumbent that stays silent is not replaced by the candidate.
func (t *Transport) challengeIncumbent(incumbent *NodeEntry, candidate *enode.Node, now time.Time) {
	t.mu.Lock()
	h, ok := t.handlerForNode(incumbent.Node)
	t.mu.Unlock()
	if !ok {
		return
	}
	h.beginEviction(candidate, now)
	ping := &wire.KadPing{From: t.selfNode(), To: incumbent.Node, NetworkID: t.cfg.NetworkID, NetworkVersion: t.cfg.NetworkVersion, Timestamp: now.Unix()}
	t.sendTo(incumbent.Node, ping.Encode())
	h.markPingSent(now)
}

func (t *Transport) handlerForNode(n *enode.Node) (*NodeHandler, bool) {
	for _, h := range t.handlers {
		if h.node != nil && h.node.SameEndpoint(n) {
			return h, true
		}
	}
	return nil, false
}

// bondUnknown starts the bonding protocol with a node learned from a
// NEIGHBORS reply, unless it's already known or in retry grace.
func (t *Transport) bondUnknown(n *enode.Node, now time.Time) {
	addr := endpointToAddr(n.Endpoint)
	t.mu.Lock()
	key := addr.String()
	h, exists := t.handlers[key]
	if !exists {
		h = newNodeHandler(n)
		t.handlers[key] = h
	}
	t.mu.Unlock()
	if exists {
		if h.inRetryGrace(now) {
			return
		}
		if h.State() != StateDiscovered {
			return
		}
	}
	ping := &wire.KadPing{From: t.selfNode(), To: n, NetworkID: t.cfg.NetworkID, NetworkVersion: t.cfg.NetworkVersion, Timestamp: now.Unix()}
	t.sendTo(n, ping.Encode())
	h.markPingSent(now)
}

func (t *Transport) selfNode() *enode.Node {
	return &enode.Node{ID: t.home, HasID: true, NetworkID: t.cfg.NetworkID, NetworkVersion: t.cfg.NetworkVersion}
}

func (t *Transport) send(addr net.Addr, body []byte) {
	pkt := sealPacket(t.priv, body)
	if _, err := t.conn.WriteTo(pkt, addr); err != nil {
		t.log.Debug("discovery: write failed", "addr", addr, "err", err)
	}
}

func (t *Transport) sendTo(n *enode.Node, body []byte) {
	t.send(endpointToAddr(n.Endpoint), body)
}

func endpointToAddr(e enode.Endpoint) net.Addr {
	ip := e.PreferredIP()
	return &net.UDPAddr{IP: ip, Port: int(e.Port)}
}

func endpointFromAddr(addr net.Addr, port uint16) enode.Endpoint {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return enode.Endpoint{Port: port}
	}
	ep := enode.Endpoint{Port: port}
	if v4 := udpAddr.IP.To4(); v4 != nil {
		ep.IPv4 = v4
	} else {
		ep.IPv6 = udpAddr.IP.To16()
	}
	return ep
}

// FindClosest runs the iterative lookup described in spec.md §4.2: up to
// Alpha parallel FIND_NODE probes per round, merging results, until no
// closer node is learned or MaxLoopNum rounds are spent. Every MaxLoopNum
// iterations of the *periodic refresh* (not of this call) the task
// substitutes the home ID as target; that self-refresh trigger lives in the
// Refresher below.
func (t *Transport) FindClosest(target enode.ID) []*enode.Node {
	seen := make(map[enode.ID]bool)
	best := t.table.Closest(target, BucketSize)
	for _, n := range best {
		seen[n.ID] = true
	}

	for round := 0; round < t.cfg.MaxLoopNum; round++ {
		frontier := closestUnqueried(best, target, t.cfg.Alpha)
		if len(frontier) == 0 {
			break
		}
		var g errgroup.Group
		var mu sync.Mutex
		progressed := false
		for _, n := range frontier {
			n := n
			g.Go(func() error {
				t.sendFindNodeAndWait(n, target)
				return nil
			})
		}
		_ = g.Wait()

		mu.Lock()
		merged := t.table.Closest(target, BucketSize)
		for _, n := range merged {
			if !seen[n.ID] {
				seen[n.ID] = true
				progressed = true
			}
		}
		best = merged
		mu.Unlock()
		if !progressed {
			break
		}
	}
	return best
}

func closestUnqueried(candidates []*enode.Node, target enode.ID, alpha int) []*enode.Node {
	if len(candidates) > alpha {
		candidates = candidates[:alpha]
	}
	return candidates
}

// sendFindNodeAndWait sends FIND_NODE to n and gives it a short window to
// reply; the reply itself is processed asynchronously by Serve's read loop,
// so this just paces the round rather than blocking on a specific answer.
func (t *Transport) sendFindNodeAndWait(n *enode.Node, target enode.ID) {
	now := time.Now()
	t.mu.Lock()
	h, ok := t.handlerForNode(n)
	t.mu.Unlock()
	if !ok {
		return
	}
	h.markFindNodeSent(target, now)
	msg := &wire.KadFindNode{From: t.selfNode(), Target: target, Timestamp: now.Unix()}
	t.sendTo(n, msg.Encode())
	time.Sleep(200 * time.Millisecond) // bounded wait for NEIGHBORS before the round advances
}

// Refresher runs the periodic refresh task of spec.md §4.2: every
// RefreshInterval, look up a random target; every MaxLoopNum refreshes,
// substitute the home ID to exercise self-refresh.
type Refresher struct {
	t        *Transport
	interval time.Duration
	maxLoop  int
	count    int
	randFn   func() enode.ID
}

func NewRefresher(t *Transport, randFn func() enode.ID) *Refresher {
	return &Refresher{t: t, interval: t.cfg.RefreshInterval, maxLoop: t.cfg.MaxLoopNum, randFn: randFn}
}

func (r *Refresher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.count++
			target := r.randFn()
			if r.maxLoop > 0 && r.count%r.maxLoop == 0 {
				target = r.t.home
			}
			r.t.FindClosest(target)
		}
	}
}
