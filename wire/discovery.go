package wire

import (
	"errors"

	"github.com/corenet/p2p/enode"
)

// Discovery message codes (spec.md §4.1).
const (
	CodeKadPing       byte = 0x01
	CodeKadPong       byte = 0x02
	CodeKadFindNode   byte = 0x03
	CodeKadNeighbors  byte = 0x04
)

// MinUDPPacket / MaxUDPPacket bound the datagrams accepted by the discovery
// listener; anything outside this range is dropped silently (spec.md §4.1,
// §6, and boundary tests in §8).
const (
	MinUDPPacket = 2
	MaxUDPPacket = 2047
)

var ErrUnknownCode = errors.New("wire: unknown discovery message code")

type KadPing struct {
	From           *enode.Node
	To             *enode.Node
	NetworkID      byte
	NetworkVersion int16
	Timestamp      int64
}

func (m *KadPing) Encode() []byte {
	w := NewWriter()
	w.WriteU8(CodeKadPing)
	EncodeNode(w, m.From)
	EncodeNode(w, m.To)
	w.WriteU8(m.NetworkID)
	w.WriteI16(m.NetworkVersion)
	w.WriteI64(m.Timestamp)
	return w.Bytes()
}

type KadPong struct {
	NetworkID      byte
	NetworkVersion int16
	Timestamp      int64
}

func (m *KadPong) Encode() []byte {
	w := NewWriter()
	w.WriteU8(CodeKadPong)
	w.WriteU8(m.NetworkID)
	w.WriteI16(m.NetworkVersion)
	w.WriteI64(m.Timestamp)
	return w.Bytes()
}

type KadFindNode struct {
	From      *enode.Node
	Target    enode.ID
	Timestamp int64
}

func (m *KadFindNode) Encode() []byte {
	w := NewWriter()
	w.WriteU8(CodeKadFindNode)
	EncodeNode(w, m.From)
	w.WriteBytes(m.Target[:])
	w.WriteI64(m.Timestamp)
	return w.Bytes()
}

// MaxNeighbors is the maximum number of nodes carried in one KAD_NEIGHBORS
// reply, matching the routing table's bucket size K (spec.md §4.1, §2 C3).
const MaxNeighbors = 16

type KadNeighbors struct {
	From      *enode.Node
	Neighbors []*enode.Node
	Timestamp int64
}

func (m *KadNeighbors) Encode() []byte {
	w := NewWriter()
	w.WriteU8(CodeKadNeighbors)
	EncodeNode(w, m.From)
	n := len(m.Neighbors)
	if n > MaxNeighbors {
		n = MaxNeighbors
	}
	w.WriteI32(int32(n))
	for i := 0; i < n; i++ {
		EncodeNode(w, m.Neighbors[i])
	}
	w.WriteI64(m.Timestamp)
	return w.Bytes()
}

// DecodeDiscoveryPacket dispatches on the leading code byte and returns one
// of *KadPing, *KadPong, *KadFindNode, *KadNeighbors.
func DecodeDiscoveryPacket(b []byte) (any, error) {
	if len(b) < MinUDPPacket || len(b) > MaxUDPPacket {
		return nil, ErrMalformed
	}
	r := NewReader(b[1:])
	switch b[0] {
	case CodeKadPing:
		from, err := DecodeNode(r)
		if err != nil {
			return nil, err
		}
		to, err := DecodeNode(r)
		if err != nil {
			return nil, err
		}
		netID, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		netVer, err := r.ReadI16()
		if err != nil {
			return nil, err
		}
		ts, err := r.ReadI64()
		if err != nil {
			return nil, err
		}
		return &KadPing{From: from, To: to, NetworkID: netID, NetworkVersion: netVer, Timestamp: ts}, nil
	case CodeKadPong:
		netID, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		netVer, err := r.ReadI16()
		if err != nil {
			return nil, err
		}
		ts, err := r.ReadI64()
		if err != nil {
			return nil, err
		}
		return &KadPong{NetworkID: netID, NetworkVersion: netVer, Timestamp: ts}, nil
	case CodeKadFindNode:
		from, err := DecodeNode(r)
		if err != nil {
			return nil, err
		}
		targetB, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		target, err := enode.BytesToID(targetB)
		if err != nil {
			return nil, err
		}
		ts, err := r.ReadI64()
		if err != nil {
			return nil, err
		}
		return &KadFindNode{From: from, Target: target, Timestamp: ts}, nil
	case CodeKadNeighbors:
		from, err := DecodeNode(r)
		if err != nil {
			return nil, err
		}
		count, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		if count < 0 || count > MaxNeighbors {
			return nil, ErrMalformed
		}
		neighbors := make([]*enode.Node, 0, count)
		for i := int32(0); i < count; i++ {
			nd, err := DecodeNode(r)
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, nd)
		}
		ts, err := r.ReadI64()
		if err != nil {
			return nil, err
		}
		return &KadNeighbors{From: from, Neighbors: neighbors, Timestamp: ts}, nil
	default:
		return nil, ErrUnknownCode
	}
}
