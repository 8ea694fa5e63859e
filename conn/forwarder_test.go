package conn

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/JekaMas/workerpool"
	"github.com/stretchr/testify/require"

	"github.com/corenet/p2p/internal/xlog"
	"github.com/corenet/p2p/wire"
)

// drainedChannel returns a Channel whose peer end is continuously drained, so
// WriteFrame never blocks on net.Pipe's synchronous handoff.
func drainedChannel(t *testing.T, endpoint string) *Channel {
	t.Helper()
	c1, c2 := net.Pipe()
	go io.Copy(io.Discard, c2)
	codec := &wire.FrameCodec{MaxFrame: wire.DefaultMaxFrame}
	return NewChannel(fakeConn{c1, endpoint}, DirInbound, codec)
}

func TestSelectTargetsCeilFraction(t *testing.T) {
	chans := make([]*Channel, 5)
	for i := range chans {
		chans[i] = drainedChannel(t, "10.0.0.1:1")
	}
	f := NewForwarder(2, func(string) []*Channel { return chans })
	targets := f.selectTargets("excluded")
	// ceil(0.3 * 5) = 2
	require.Len(t, targets, 2)
}

func TestSelectTargetsAllWhenSetSmall(t *testing.T) {
	chans := []*Channel{drainedChannel(t, "a"), drainedChannel(t, "b")}
	f := NewForwarder(2, func(string) []*Channel { return chans })
	targets := f.selectTargets("excluded")
	require.Len(t, targets, 2)
}

func TestSelectTargetsRoundRobinAdvances(t *testing.T) {
	chans := make([]*Channel, 10)
	for i := range chans {
		chans[i] = drainedChannel(t, "10.0.0.1:1")
	}
	f := NewForwarder(2, func(string) []*Channel { return chans })
	first := f.selectTargets("x")
	second := f.selectTargets("x")
	require.Len(t, first, 3) // ceil(0.3*10) = 3
	require.Len(t, second, 3)
	require.NotEqual(t, first[0], second[0], "round robin should advance the start index between calls")
}

func TestForwarderSubmitIncrementsHopCountAndExcludesSource(t *testing.T) {
	source := drainedChannel(t, "source:1")
	c1, c2 := net.Pipe()
	codec := &wire.FrameCodec{MaxFrame: wire.DefaultMaxFrame}
	other := NewChannel(fakeConn{c1, "other:1"}, DirInbound, codec)
	received := make(chan []byte, 1)
	go func() {
		if body, err := codec.ReadFrame(c2); err == nil {
			received <- body
		}
	}()
	channels := []*Channel{source, other}

	f := NewForwarder(2, func(exclude string) []*Channel {
		out := make([]*Channel, 0, len(channels))
		for _, ch := range channels {
			if ch.Endpoint == exclude {
				continue
			}
			out = append(out, ch)
		}
		return out
	})
	defer f.Stop()

	msg := &wire.AppTestMessage{HopCount: 1, MaxHops: 4, Payload: []byte("hello")}
	f.Submit(msg, source.Endpoint)

	require.Eventually(t, func() bool {
		return other.Stats.MessagesSent.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(0), source.Stats.MessagesSent.Load(), "source endpoint must not receive its own forwarded message")

	var body []byte
	select {
	case body = <-received:
	case <-time.After(time.Second):
		t.Fatal("forwarded frame was not received")
	}
	decoded, err := wire.DecodeTransportBody(body)
	require.NoError(t, err)
	require.Equal(t, uint8(2), decoded.(*wire.AppTestMessage).HopCount, "forwarded copy must carry hop count + 1")
}

func TestForwarderDropsWhenQueueFull(t *testing.T) {
	// Built without its dispatcher goroutine, so submitted jobs stay queued in
	// a two-slot ring.
	f := &Forwarder{
		pool:          workerpool.New(1),
		log:           xlog.New("component", "forwarder"),
		ring:          make([]forwardJob, 2),
		listConnected: func(string) []*Channel { return nil },
	}
	f.cond = sync.NewCond(&f.mu)
	defer f.Stop()
	require.Equal(t, int64(0), f.Dropped())

	f.Submit(&wire.AppTestMessage{}, "first")
	f.Submit(&wire.AppTestMessage{}, "second")
	require.Equal(t, int64(0), f.Dropped())
	f.Submit(&wire.AppTestMessage{}, "third")
	require.Equal(t, int64(1), f.Dropped())
	require.Equal(t, "second", f.ring[f.head].sourceEndpoint, "the oldest queued job should have been dropped")
}
