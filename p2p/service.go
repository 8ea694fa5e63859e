package p2p

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	_ "go.uber.org/automaxprocs" // sets GOMAXPROCS from the cgroup CPU quota at process start

	"github.com/corenet/p2p/conn"
	"github.com/corenet/p2p/discover"
	"github.com/corenet/p2p/dnsdisc"
	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// Service owns every shared mutable singleton (bans, connection stats,
// routing table) described in spec.md §9, passed to its components by
// reference rather than through package-level globals.
type Service struct {
	cfg  Config
	priv *btcec.PrivateKey
	home enode.ID
	log  xlog.Logger

	Table      *discover.Table
	Transport  *discover.Transport
	Refresher  *discover.Refresher
	Bans       *conn.BanList
	Manager    *conn.Manager
	Handlers   *conn.HandlerRegistry
	DNSClient  *dnsdisc.Client
	DNSPublish *dnsdisc.Publisher

	udpConn *net.UDPConn
	tcpLn   net.Listener
	stopCh  chan struct{}
}

// New constructs a Service from cfg, deriving the node identity from
// cfg.PrivateKeyHex (or generating a fresh one if empty).
func New(cfg Config) (*Service, error) {
	cfg.sanitize()

	priv, err := loadOrGenerateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("p2p: load identity key: %w", err)
	}
	home := enode.PublicKeyToID(priv.PubKey())

	s := &Service{
		cfg:      cfg,
		priv:     priv,
		home:     home,
		log:      xlog.New("component", "p2p-service"),
		Table:    discover.NewTable(home),
		Bans:     conn.NewBanList(),
		Handlers: conn.NewHandlerRegistry(),
		stopCh:   make(chan struct{}),
	}

	if len(cfg.TreeURLs) > 0 || cfg.DNSPublish.Domain != "" {
		s.DNSClient = dnsdisc.NewClient(dnsTXTLookup)
	}

	return s, nil
}

func loadOrGenerateKey(hexKey string) (*btcec.PrivateKey, error) {
	if hexKey == "" {
		return btcec.NewPrivateKey()
	}
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// dnsTXTLookup adapts net.LookupTXT (joined, since a tree entry may span
// multiple 255-byte TXT chunks per spec.md §4.3) to dnsdisc.TXTLookup.
func dnsTXTLookup(ctx context.Context, name string) (string, error) {
	vals, err := net.DefaultResolver.LookupTXT(ctx, name)
	if err != nil {
		return "", err
	}
	joined := ""
	for _, v := range vals {
		joined += v
	}
	return joined, nil
}

// Start opens the UDP/TCP listeners and launches every background loop.
// Discovery is skipped entirely when cfg.DiscoverEnable is false; in that
// mode the connection manager falls back to cfg.SeedNodes/ActiveNodes as its
// only candidate source (SPEC_FULL "static-seed dial fallback").
func (s *Service) Start() error {
	addr := &net.UDPAddr{Port: int(s.cfg.Port)}
	if s.cfg.DiscoverEnable {
		uc, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("p2p: udp listen: %w", err)
		}
		s.udpConn = uc
		s.Transport = discover.NewTransport(uc, s.priv, s.home, s.Table, s.cfg.discoverConfig())
		go s.Transport.Serve()

		s.Refresher = discover.NewRefresher(s.Transport, randomID)
		go s.Refresher.Run(s.stopCh)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("p2p: tcp listen: %w", err)
	}
	s.tcpLn = ln

	sources := s.candidateSources()
	s.Manager = conn.NewManager(s.home, s.cfg.managerConfig(), s.Bans, sources...)
	s.Manager.OnActive = func(ch *conn.Channel) { s.log.Info("peer active", "endpoint", ch.Endpoint) }
	go s.Manager.RunPool(s.stopCh)
	go s.acceptLoop()

	return nil
}

// candidateSources builds the dial candidate pool: the routing table, plus a
// static fallback of seed/active nodes parsed from cfg when discovery is
// disabled. Nodes resolved from tree_urls are not among the sources.
func (s *Service) candidateSources() []conn.CandidateSource {
	var out []conn.CandidateSource
	if s.Table != nil {
		out = append(out, conn.CandidateFunc(func() []*enode.Node {
			return s.Table.Closest(s.home, discover.BucketSize*4)
		}))
	}
	if !s.cfg.DiscoverEnable {
		out = append(out, conn.CandidateFunc(func() []*enode.Node {
			return parseStaticNodes(append(append([]string{}, s.cfg.SeedNodes...), s.cfg.ActiveNodes...))
		}))
	}
	return out
}

func parseStaticNodes(addrs []string) []*enode.Node {
	var out []*enode.Node
	for _, a := range addrs {
		host, portStr, err := net.SplitHostPort(a)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		ep := enode.Endpoint{Port: uint16(port)}
		if v4 := ip.To4(); v4 != nil {
			ep.IPv4 = v4
		} else {
			ep.IPv6 = ip
		}
		out = append(out, &enode.Node{Endpoint: ep, LastUpdate: time.Now()})
	}
	return out
}

func (s *Service) acceptLoop() {
	for {
		c, err := s.tcpLn.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.log.Warn("tcp accept error", "err", err)
			return
		}
		ch, reason := s.Manager.Accept(c)
		if reason != conn.AdmitOK {
			continue
		}
		pcfg := conn.PipelineConfig{
			NetworkID:      s.cfg.NetworkID,
			NetworkVersion: s.cfg.NetworkVersion,
			SelfOrigin:     s.home16(),
		}
		p := conn.NewPipeline(ch, s.Manager, pcfg, s.Handlers)
		go p.Run(s.stopCh)
	}
}

// randomID produces a uniformly random lookup target for the periodic
// refresh task (spec.md §4.2).
func randomID() enode.ID {
	var id enode.ID
	cryptorand.Read(id[:])
	return id
}

func (s *Service) home16() [16]byte {
	var out [16]byte
	copy(out[:], s.home[:16])
	return out
}

// RegisterHandler implements spec.md §6's application interface
// register_handler(codes, on_connect, on_disconnect, on_message).
func (s *Service) RegisterHandler(h *conn.Handler) {
	s.Handlers.Register(h)
}

// Broadcast submits payload as a fresh, self-originated AppTestMessage to
// the forwarder, which fans it out to the connected set (spec.md §6
// broadcast(bytes)).
func (s *Service) Broadcast(payload []byte, maxHops uint8, ttl time.Duration) {
	msg := &wire.AppTestMessage{
		MessageID:  conn.NewMessageID(),
		Origin:     s.home16(),
		HopCount:   0,
		MaxHops:    maxHops,
		TTLUnixSec: time.Now().Add(ttl).Unix(),
		Payload:    payload,
	}
	s.Manager.Forwarder.Submit(msg, "")
}

// Peers returns the number of currently connected channels (spec.md §6
// peers()).
func (s *Service) Peers() int { return s.Manager.Len() }

// Stop tears down listeners and background loops.
func (s *Service) Stop() {
	close(s.stopCh)
	if s.udpConn != nil {
		s.Transport.Close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
}
