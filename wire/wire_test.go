package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/corenet/p2p/enode"
	"github.com/stretchr/testify/require"
)

func dualStackNode() *enode.Node {
	return &enode.Node{
		ID:             enode.ID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		HasID:          true,
		NetworkID:      1,
		NetworkVersion: 7,
		Endpoint: enode.Endpoint{
			IPv4: net.ParseIP("127.0.0.1").To4(),
			IPv6: net.ParseIP("::1").To16(),
			Port: 30303,
		},
	}
}

func v4OnlyNode() *enode.Node {
	n := dualStackNode()
	n.Endpoint.IPv6 = nil
	return n
}

func v6OnlyNode() *enode.Node {
	n := dualStackNode()
	n.Endpoint.IPv4 = nil
	return n
}

func noIDNode() *enode.Node {
	n := dualStackNode()
	n.HasID = false
	n.ID = enode.ID{}
	return n
}

func TestNodeRoundTrip(t *testing.T) {
	for name, n := range map[string]*enode.Node{
		"dual":  dualStackNode(),
		"v4":    v4OnlyNode(),
		"v6":    v6OnlyNode(),
		"noid":  noIDNode(),
	} {
		t.Run(name, func(t *testing.T) {
			w := NewWriter()
			EncodeNode(w, n)
			got, err := DecodeNode(NewReader(w.Bytes()))
			require.NoError(t, err)
			require.Equal(t, n.HasID, got.HasID)
			if n.HasID {
				require.Equal(t, n.ID, got.ID)
			}
			require.Equal(t, n.Endpoint.Port, got.Endpoint.Port)
			require.Equal(t, n.NetworkID, got.NetworkID)
			require.Equal(t, n.NetworkVersion, got.NetworkVersion)
		})
	}
}

func TestDiscoveryMessageRoundTrip(t *testing.T) {
	from, to := dualStackNode(), v4OnlyNode()

	ping := &KadPing{From: from, To: to, NetworkID: 1, NetworkVersion: 1, Timestamp: 111}
	decoded, err := DecodeDiscoveryPacket(ping.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*KadPing)
	require.True(t, ok)
	require.Equal(t, ping.Timestamp, got.Timestamp)
	require.Equal(t, ping.NetworkID, got.NetworkID)

	pong := &KadPong{NetworkID: 1, NetworkVersion: 2, Timestamp: 222}
	decoded, err = DecodeDiscoveryPacket(pong.Encode())
	require.NoError(t, err)
	gotPong := decoded.(*KadPong)
	require.Equal(t, pong.NetworkVersion, gotPong.NetworkVersion)

	find := &KadFindNode{From: from, Target: to.ID, Timestamp: 333}
	decoded, err = DecodeDiscoveryPacket(find.Encode())
	require.NoError(t, err)
	gotFind := decoded.(*KadFindNode)
	require.Equal(t, find.Target, gotFind.Target)

	neighbors := &KadNeighbors{From: from, Neighbors: []*enode.Node{to, from}, Timestamp: 444}
	decoded, err = DecodeDiscoveryPacket(neighbors.Encode())
	require.NoError(t, err)
	gotN := decoded.(*KadNeighbors)
	require.Len(t, gotN.Neighbors, 2)
}

func TestUDPPacketSizeBoundary(t *testing.T) {
	for _, n := range []int{0, 1, 2048, 3000} {
		b := make([]byte, n)
		_, err := DecodeDiscoveryPacket(b)
		require.ErrorIs(t, err, ErrMalformed, "size %d must be rejected on size alone", n)
	}
	// 2 and 2047 are in-range sizes: they must not be rejected for size reasons
	// (they may still fail to parse as a specific message, which is a
	// different error).
	for _, n := range []int{2, 2047} {
		b := make([]byte, n)
		_, err := DecodeDiscoveryPacket(b)
		require.NotErrorIs(t, err, ErrMalformed)
	}
}

func TestFrameCodecRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		codec := NewFrameCodec(DefaultMaxFrame, compress)
		var buf bytes.Buffer
		body := (&HelloMessage{NetworkID: 1, NetworkVersion: 1, PeerDescriptor: "corenet/1.0"}).Encode()
		require.NoError(t, codec.WriteFrame(&buf, body))
		got, err := codec.ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, body, got)
	}
}

func TestFrameTooLarge(t *testing.T) {
	codec := NewFrameCodec(16, false)
	var buf bytes.Buffer
	body := make([]byte, 100)
	err := codec.WriteFrame(&buf, body)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAppTestRoundTrip(t *testing.T) {
	m := &AppTestMessage{HopCount: 1, MaxHops: 3, TTLUnixSec: 999, Payload: []byte("hello")}
	decoded, err := DecodeTransportBody(m.Encode())
	require.NoError(t, err)
	got := decoded.(*AppTestMessage)
	require.Equal(t, m.Payload, got.Payload)
	require.Equal(t, m.HopCount, got.HopCount)
}
