package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corenet/p2p/wire"
)

type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
)

type HandshakeState int

const (
	StateHandshaking HandshakeState = iota
	StateActive
	StateClosed
)

// Stats are per-layer counters, checked by invariant 3 in spec.md §8
// (bytes_sent >= messages_sent).
type Stats struct {
	BytesSent     atomic.Int64
	BytesRecv     atomic.Int64
	MessagesSent  atomic.Int64
	MessagesRecv  atomic.Int64
}

// Channel is one TCP connection, wrapped with the framing/handshake/keepalive
// state spec.md §3 "Channel" describes.
type Channel struct {
	conn      net.Conn
	Endpoint  string
	Direction Direction
	codec     *wire.FrameCodec

	mu             sync.Mutex
	state          HandshakeState
	discoveryMode  bool
	lastSend       time.Time
	lastRecv       time.Time
	closingReason  byte
	closed         bool

	Stats Stats

	writeMu sync.Mutex
}

func NewChannel(c net.Conn, dir Direction, codec *wire.FrameCodec) *Channel {
	now := time.Now()
	return &Channel{
		conn:      c,
		Endpoint:  c.RemoteAddr().String(),
		Direction: dir,
		codec:     codec,
		state:     StateHandshaking,
		lastSend:  now,
		lastRecv:  now,
	}
}

func (c *Channel) State() HandshakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s HandshakeState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) touchRecv(now time.Time) {
	c.mu.Lock()
	c.lastRecv = now
	c.mu.Unlock()
}

func (c *Channel) IdleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastRecv)
}

// WriteFrame serializes writes to the underlying connection so that per-
// channel writes are strictly ordered (spec.md §5 "Ordering guarantees").
func (c *Channel) WriteFrame(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.codec.WriteFrame(c.conn, body); err != nil {
		return err
	}
	c.Stats.BytesSent.Add(int64(len(body)))
	c.Stats.MessagesSent.Add(1)
	c.mu.Lock()
	c.lastSend = time.Now()
	c.mu.Unlock()
	return nil
}

// ReadFrame reads and accounts one frame.
func (c *Channel) ReadFrame() ([]byte, error) {
	body, err := c.codec.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	c.Stats.BytesRecv.Add(int64(len(body)))
	c.Stats.MessagesRecv.Add(1)
	c.touchRecv(time.Now())
	return body, nil
}

func (c *Channel) Close(reason byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closingReason = reason
	c.state = StateClosed
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Channel) IP() string {
	host, _, err := net.SplitHostPort(c.Endpoint)
	if err != nil {
		return c.Endpoint
	}
	return host
}
