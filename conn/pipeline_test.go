package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corenet/p2p/enode"
	"github.com/corenet/p2p/wire"
)

func newPipePair(t *testing.T) (a, b *Channel) {
	t.Helper()
	c1, c2 := net.Pipe()
	codec := &wire.FrameCodec{MaxFrame: wire.DefaultMaxFrame}
	return NewChannel(fakeConn{c1, "10.0.0.1:30303"}, DirOutbound, codec),
		NewChannel(fakeConn{c2, "10.0.0.2:30303"}, DirInbound, codec)
}

// fakeConn overrides RemoteAddr since net.Pipe's endpoints report "pipe".
type fakeConn struct {
	net.Conn
	remote string
}

func (f fakeConn) RemoteAddr() net.Addr { return fakeAddr(f.remote) }

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestHandshakePromotesToActive(t *testing.T) {
	a, b := newPipePair(t)
	bans := NewBanList()
	mgrA := NewManager(enode.ID{1}, ManagerConfig{}, bans)
	mgrB := NewManager(enode.ID{2}, ManagerConfig{}, bans)
	regA := NewHandlerRegistry()
	regB := NewHandlerRegistry()

	pa := NewPipeline(a, mgrA, PipelineConfig{NetworkID: 7, NetworkVersion: 1}, regA)
	pb := NewPipeline(b, mgrB, PipelineConfig{NetworkID: 7, NetworkVersion: 1}, regB)

	stopA := make(chan struct{})
	stopB := make(chan struct{})
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { pa.Run(stopA); close(doneA) }()
	go func() { pb.Run(stopB); close(doneB) }()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateActive, a.State())
	require.Equal(t, StateActive, b.State())

	close(stopA)
	close(stopB)
	<-doneA
	<-doneB
}

func TestHandshakeRejectsIncompatibleNetwork(t *testing.T) {
	a, b := newPipePair(t)
	bans := NewBanList()
	mgrA := NewManager(enode.ID{1}, ManagerConfig{}, bans)
	mgrB := NewManager(enode.ID{2}, ManagerConfig{}, bans)
	regA := NewHandlerRegistry()
	regB := NewHandlerRegistry()

	pa := NewPipeline(a, mgrA, PipelineConfig{NetworkID: 7, NetworkVersion: 1}, regA)
	pb := NewPipeline(b, mgrB, PipelineConfig{NetworkID: 9, NetworkVersion: 1}, regB)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { pa.Run(make(chan struct{})); close(doneA) }()
	go func() { pb.Run(make(chan struct{})); close(doneB) }()

	<-doneA
	<-doneB
	require.NotEqual(t, StateActive, a.State())
}
