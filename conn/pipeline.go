package conn

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// Keepalive timings (spec.md §4.5).
const (
	DefaultIdleRead  = 20 * time.Second
	DefaultIdleClose = 60 * time.Second
)

// PipelineConfig carries the values the per-channel pipeline needs from the
// owning service: this peer's network id/version for the HELLO compat
// check, plus the keepalive thresholds.
type PipelineConfig struct {
	NetworkID      byte
	NetworkVersion int16
	PeerDescriptor string
	IdleRead       time.Duration
	IdleClose      time.Duration
	MaxHops        uint8
	SelfOrigin     [16]byte
}

func (c *PipelineConfig) sanitize() {
	if c.IdleRead == 0 {
		c.IdleRead = DefaultIdleRead
	}
	if c.IdleClose == 0 {
		c.IdleClose = DefaultIdleClose
	}
	if c.MaxHops == 0 {
		c.MaxHops = 8
	}
}

var errIncompatible = errors.New("conn: peer network id/version incompatible")

// Pipeline drives a single Channel's read loop: framer -> decompressor (both
// inside wire.FrameCodec) -> message decode -> handshake/keepalive ->
// dispatch (spec.md §4.5).
type Pipeline struct {
	ch      *Channel
	mgr     *Manager
	cfg     PipelineConfig
	reg     *HandlerRegistry
	log     xlog.Logger
}

func NewPipeline(ch *Channel, mgr *Manager, cfg PipelineConfig, reg *HandlerRegistry) *Pipeline {
	cfg.sanitize()
	return &Pipeline{ch: ch, mgr: mgr, cfg: cfg, reg: reg, log: xlog.New("component", "pipeline", "endpoint", ch.Endpoint)}
}

// Run performs the handshake then services reads until the channel closes or
// ctx's stop channel fires. It always ends by removing the channel from the
// manager and invoking OnClose/on_disconnect handlers.
func (p *Pipeline) Run(stop <-chan struct{}) {
	defer p.teardown()

	if err := p.handshake(); err != nil {
		p.log.Debug("handshake failed", "err", err)
		p.ch.Close(wire.ReasonIncompatible)
		return
	}
	p.ch.setState(StateActive)
	if p.mgr.OnActive != nil {
		p.mgr.OnActive(p.ch)
	}
	p.reg.notifyConnect(p.ch)

	readErrCh := make(chan error, 1)
	frameCh := make(chan []byte, 16)
	go func() {
		for {
			body, err := p.ch.ReadFrame()
			if err != nil {
				readErrCh <- err
				return
			}
			frameCh <- body
		}
	}()

	idleTicker := time.NewTicker(p.cfg.IdleRead)
	defer idleTicker.Stop()

	for {
		select {
		case <-stop:
			p.ch.Close(wire.ReasonRequested)
			return
		case err := <-readErrCh:
			p.log.Debug("read loop ended", "err", err)
			return
		case body := <-frameCh:
			if err := p.handleFrame(body); err != nil {
				p.log.Warn("malformed frame, banning peer", "err", err)
				p.mgr.BanPeer(p.ch.IP(), p.mgr.cfg.MalformedBanDuration)
				p.ch.Close(wire.ReasonBadProtocol)
				return
			}
		case <-idleTicker.C:
			idle := p.ch.IdleSince(time.Now())
			if idle > p.cfg.IdleClose {
				p.ch.Close(wire.ReasonTimeout)
				return
			}
			if idle > p.cfg.IdleRead {
				p.ch.WriteFrame(wire.EncodePing())
			}
		}
	}
}

func (p *Pipeline) teardown() {
	p.mgr.Remove(p.ch)
	p.reg.notifyDisconnect(p.ch)
}

// handshake implements spec.md §4.5: initiator HELLO, responder validates
// and replies HELLO or DISCONNECT, then both sides exchange STATUS.
func (p *Pipeline) handshake() error {
	hello := &wire.HelloMessage{NetworkID: p.cfg.NetworkID, NetworkVersion: p.cfg.NetworkVersion, PeerDescriptor: p.cfg.PeerDescriptor}
	if p.ch.Direction == DirOutbound {
		if err := p.ch.WriteFrame(hello.Encode()); err != nil {
			return err
		}
		if err := p.recvHello(); err != nil {
			return err
		}
	} else {
		if err := p.recvHello(); err != nil {
			return err
		}
		if err := p.ch.WriteFrame(hello.Encode()); err != nil {
			return err
		}
	}
	// The initiator sends its STATUS first and the responder answers, so the
	// exchange also completes over an unbuffered transport.
	status := &wire.StatusMessage{AppMetadata: nil}
	if p.ch.Direction == DirOutbound {
		if err := p.ch.WriteFrame(status.Encode()); err != nil {
			return err
		}
		return p.recvStatus()
	}
	if err := p.recvStatus(); err != nil {
		return err
	}
	return p.ch.WriteFrame(status.Encode())
}

func (p *Pipeline) recvStatus() error {
	body, err := p.ch.ReadFrame()
	if err != nil {
		return err
	}
	msg, err := wire.DecodeTransportBody(body)
	if err != nil {
		return err
	}
	if _, ok := msg.(*wire.StatusMessage); !ok {
		return errIncompatible
	}
	return nil
}

func (p *Pipeline) recvHello() error {
	body, err := p.ch.ReadFrame()
	if err != nil {
		return err
	}
	msg, err := wire.DecodeTransportBody(body)
	if err != nil {
		return err
	}
	hello, ok := msg.(*wire.HelloMessage)
	if !ok {
		p.ch.WriteFrame((&wire.DisconnectMessage{Reason: wire.ReasonBadProtocol}).Encode())
		return errIncompatible
	}
	if hello.NetworkID != p.cfg.NetworkID || hello.NetworkVersion != p.cfg.NetworkVersion {
		p.ch.WriteFrame((&wire.DisconnectMessage{Reason: wire.ReasonIncompatible}).Encode())
		return errIncompatible
	}
	return nil
}

// handleFrame decodes one frame body and routes it to the keepalive handler
// or the application dispatcher.
func (p *Pipeline) handleFrame(body []byte) error {
	msg, err := wire.DecodeTransportBody(body)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wire.PingMessage:
		return p.ch.WriteFrame(wire.EncodePong())
	case wire.PongMessage:
		return nil
	case *wire.DisconnectMessage:
		p.ch.Close(m.Reason)
		return nil
	case *wire.AppTestMessage:
		p.dispatchAppTest(m)
		return nil
	default:
		return nil
	}
}

// dispatchAppTest implements spec.md §4.5's dedup-then-forward pipeline.
func (p *Pipeline) dispatchAppTest(m *wire.AppTestMessage) {
	now := time.Now()
	if p.mgr.dedupBloom.CheckAndAdd(m.MessageID[:]) {
		p.reg.notifyMessage(p.ch, m) // still deliver locally; dedup only gates forwarding
		return
	}
	p.mgr.source.Record(string(m.MessageID[:]), p.ch.Endpoint, now)
	p.reg.notifyMessage(p.ch, m)

	if m.HopCount < m.MaxHops && now.Unix() < m.TTLUnixSec && m.Origin != p.cfg.SelfOrigin {
		p.mgr.Forwarder.Submit(m, p.ch.Endpoint)
	}
}

// NewMessageID returns a random 16-byte identifier suitable for
// AppTestMessage.MessageID (spec.md §4.5).
func NewMessageID() [16]byte {
	var id [16]byte
	rand.Read(id[:])
	return id
}
