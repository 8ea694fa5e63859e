package conn

import (
	"net"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/time/rate"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// DialAcceptRateLimit bounds how often a single IP may be admitted (dialed
// to or accepted from) per second, independent of the same-IP connection cap
// — it throttles connection *churn* from one address rather than the
// steady-state count (spec.md §4.4 admission control).
const DialAcceptRateLimit = 2.0
const DialAcceptRateBurst = 4

// ManagerConfig mirrors the connection manager knobs of spec.md §4.4/§6.
type ManagerConfig struct {
	MinConnections       int
	MinActiveConnections int
	MaxConnections       int
	MaxConnectionsSameIP int
	TrustNodes           []string // "ip:port" or bare ip, matched against Channel.IP()
	PoolInterval         time.Duration
	MalformedBanDuration time.Duration
	FrameCodec           *wire.FrameCodec
}

func (c *ManagerConfig) sanitize() {
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
	if c.PoolInterval == 0 {
		c.PoolInterval = time.Second
	}
	if c.MalformedBanDuration == 0 {
		c.MalformedBanDuration = 30 * time.Minute
	}
	if c.FrameCodec == nil {
		c.FrameCodec = &wire.FrameCodec{MaxFrame: wire.DefaultMaxFrame}
	}
}

// AdmissionReason names the rejection reasons spec.md §4.4 admission control
// can produce.
type AdmissionReason int

const (
	AdmitOK AdmissionReason = iota
	AdmitTooManyPeers
	AdmitDuplicatePeer
	AdmitBanned
)

// CandidateSource supplies dial candidates from C3 (discover.Table) and C5
// (dnsdisc resolved nodes) plus any statically configured seeds.
type CandidateSource interface {
	Candidates() []*enode.Node
}

// CandidateFunc adapts a plain function to CandidateSource.
type CandidateFunc func() []*enode.Node

func (f CandidateFunc) Candidates() []*enode.Node { return f() }

// dialStats tracks the SPEC_FULL-added secondary dial-ranking key: candidates
// with fewer consecutive failures are preferred among equally fresh peers.
type dialStats struct {
	consecutiveFailures int
}

// Manager is the connection manager (C6): it holds the live channel set,
// runs periodic candidate selection/dialing, and performs admission control
// on inbound connections (spec.md §4.4).
type Manager struct {
	cfg     ManagerConfig
	home    enode.ID
	sources []CandidateSource
	bans    *BanList
	trust   mapset.Set[string]
	log     xlog.Logger

	mu        sync.Mutex
	channels  map[string]*Channel // keyed by remote endpoint "ip:port"
	byIP      map[string]int
	stats     map[string]*dialStats // keyed by endpoint
	ipLimiter map[string]*rate.Limiter

	dialer net.Dialer

	Forwarder  *Forwarder
	dedupBloom *RotatingBloom
	source     *SourceCache

	OnActive func(*Channel)
	OnClose  func(*Channel, byte)
}

func NewManager(home enode.ID, cfg ManagerConfig, bans *BanList, sources ...CandidateSource) *Manager {
	cfg.sanitize()
	trust := mapset.NewSet[string]()
	for _, t := range cfg.TrustNodes {
		if host, _, err := net.SplitHostPort(t); err == nil {
			t = host
		}
		trust.Add(t)
	}
	m := &Manager{
		cfg:        cfg,
		home:       home,
		sources:    sources,
		bans:       bans,
		trust:      trust,
		log:        xlog.New("component", "connmgr"),
		channels:   make(map[string]*Channel),
		byIP:       make(map[string]int),
		stats:      make(map[string]*dialStats),
		ipLimiter:  make(map[string]*rate.Limiter),
		dedupBloom: NewRotatingBloom(DefaultBloomN, DefaultBloomFPP),
		source:     NewSourceCache(DefaultSourceCacheMax, DefaultSourceCacheTTL),
	}
	m.Forwarder = NewForwarder(DefaultForwardWorkers, m.listConnectedExcept)
	return m
}

func (m *Manager) isTrusted(ip string) bool { return m.trust.Contains(ip) }

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// ActiveOutboundLen counts channels opened by us that have completed the
// handshake, for the min_active_connections target.
func (m *Manager) ActiveOutboundLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range m.channels {
		if ch.Direction == DirOutbound && ch.State() == StateActive {
			n++
		}
	}
	return n
}

func (m *Manager) listConnectedExcept(exclude string) []*Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Channel, 0, len(m.channels))
	for ep, ch := range m.channels {
		if ep == exclude {
			continue
		}
		if ch.State() == StateActive {
			out = append(out, ch)
		}
	}
	return out
}

// RunPool drives the deficit-based candidate-selection loop of spec.md §4.4
// until stop is closed.
func (m *Manager) RunPool(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PoolInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.fillDeficit()
		}
	}
}

func (m *Manager) fillDeficit() {
	current := m.Len()
	deficit := m.cfg.MinConnections - current
	if deficit <= 0 {
		return
	}
	candidates := m.selectCandidates(deficit)
	for _, n := range candidates {
		go m.dial(n)
	}
}

// selectCandidates gathers, filters and ranks dial candidates per spec.md
// §4.4: not home, not connected, not banned, not over the same-IP cap unless
// trusted; ranked by LastUpdate descending, then (SPEC_FULL) ascending
// consecutive failure count.
func (m *Manager) selectCandidates(want int) []*enode.Node {
	now := time.Now()
	var pool []*enode.Node
	for _, src := range m.sources {
		pool = append(pool, src.Candidates()...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*enode.Node
	for _, n := range pool {
		if n.HasID && n.ID == m.home {
			continue
		}
		ep := endpointKey(n)
		if _, connected := m.channels[ep]; connected {
			continue
		}
		ip := n.Endpoint.PreferredIP()
		if ip == nil {
			continue
		}
		ipStr := ip.String()
		if m.bans.IsBanned(ipStr, now) && !m.isTrusted(ipStr) {
			continue
		}
		if !m.isTrusted(ipStr) && m.byIP[ipStr] >= m.cfg.MaxConnectionsSameIP {
			continue
		}
		eligible = append(eligible, n)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].LastUpdate.Equal(eligible[j].LastUpdate) {
			return eligible[i].LastUpdate.After(eligible[j].LastUpdate)
		}
		fi := m.stats[endpointKey(eligible[i])]
		fj := m.stats[endpointKey(eligible[j])]
		return failuresOf(fi) < failuresOf(fj)
	})

	if len(eligible) > want {
		eligible = eligible[:want]
	}
	return eligible
}

func failuresOf(s *dialStats) int {
	if s == nil {
		return 0
	}
	return s.consecutiveFailures
}

func endpointKey(n *enode.Node) string {
	ip := n.Endpoint.PreferredIP()
	if ip == nil {
		return ""
	}
	return net.JoinHostPort(ip.String(), itoaPort(n.Endpoint.Port))
}

func itoaPort(p uint16) string {
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}

func (m *Manager) dial(n *enode.Node) {
	ep := endpointKey(n)
	if ep == "" {
		return
	}
	c, err := m.dialer.Dial("tcp", ep)
	m.mu.Lock()
	st, ok := m.stats[ep]
	if !ok {
		st = &dialStats{}
		m.stats[ep] = st
	}
	m.mu.Unlock()
	if err != nil {
		st.consecutiveFailures++
		m.log.Debug("dial failed", "endpoint", ep, "err", err)
		return
	}
	st.consecutiveFailures = 0
	ch := NewChannel(c, DirOutbound, m.cfg.FrameCodec)
	m.admit(ch, false)
}

// Accept registers an inbound connection, performing admission control
// before the channel is tracked (spec.md §4.4 "admission on accept").
func (m *Manager) Accept(c net.Conn) (*Channel, AdmissionReason) {
	ch := NewChannel(c, DirInbound, m.cfg.FrameCodec)
	reason := m.admit(ch, true)
	if reason != AdmitOK {
		return nil, reason
	}
	return ch, AdmitOK
}

// limiterFor returns ip's rate.Limiter, creating one on first use. Caller
// must hold m.mu.
func (m *Manager) limiterFor(ip string) *rate.Limiter {
	l, ok := m.ipLimiter[ip]
	if !ok {
		l = rate.NewLimiter(DialAcceptRateLimit, DialAcceptRateBurst)
		m.ipLimiter[ip] = l
	}
	return l
}

func (m *Manager) admit(ch *Channel, enforceAdmission bool) AdmissionReason {
	ip := ch.IP()
	now := time.Now()
	trusted := m.isTrusted(ip)

	m.mu.Lock()
	if m.bans.IsBanned(ip, now) && !trusted {
		m.mu.Unlock()
		ch.Close(wire.ReasonBanned)
		return AdmitBanned
	}
	if !trusted && !m.limiterFor(ip).Allow() {
		m.mu.Unlock()
		ch.Close(wire.ReasonTooManyPeers)
		return AdmitTooManyPeers
	}
	if enforceAdmission {
		if len(m.channels) >= m.cfg.MaxConnections {
			m.mu.Unlock()
			ch.Close(wire.ReasonTooManyPeers)
			return AdmitTooManyPeers
		}
		if !trusted && m.byIP[ip] >= m.cfg.MaxConnectionsSameIP {
			m.mu.Unlock()
			ch.Close(wire.ReasonDuplicate)
			return AdmitDuplicatePeer
		}
	}
	if _, exists := m.channels[ch.Endpoint]; exists {
		m.mu.Unlock()
		ch.Close(wire.ReasonDuplicate)
		return AdmitDuplicatePeer
	}
	m.channels[ch.Endpoint] = ch
	m.byIP[ip]++
	m.mu.Unlock()
	return AdmitOK
}

// Remove drops a channel from the live set, called once its pipeline
// terminates.
func (m *Manager) Remove(ch *Channel) {
	m.mu.Lock()
	if _, ok := m.channels[ch.Endpoint]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.channels, ch.Endpoint)
	ip := ch.IP()
	if m.byIP[ip] > 0 {
		m.byIP[ip]--
		if m.byIP[ip] == 0 {
			delete(m.byIP, ip)
		}
	}
	m.mu.Unlock()
	if m.OnClose != nil {
		m.OnClose(ch, 0)
	}
}

// BanPeer inserts ip -> now+duration, skipping trusted peers per spec.md
// §4.4.
func (m *Manager) BanPeer(ip string, duration time.Duration) {
	if m.isTrusted(ip) {
		return
	}
	m.bans.Ban(ip, duration, time.Now())
}
