package wire

import (
	"net"

	"github.com/corenet/p2p/enode"
)

// EncodeNode writes the node serialization used by discovery bodies:
// string id? || string ipv4? || string ipv6? || i32 port || i8 network_id || i16 network_version
func EncodeNode(w *Writer, n *enode.Node) {
	if n.HasID {
		id := n.ID.String()
		w.WriteOptString(&id)
	} else {
		w.WriteOptString(nil)
	}
	writeOptIP(w, n.Endpoint.IPv4)
	writeOptIP(w, n.Endpoint.IPv6)
	w.WriteI32(int32(n.Endpoint.Port))
	w.WriteU8(n.NetworkID)
	w.WriteI16(n.NetworkVersion)
}

func writeOptIP(w *Writer, ip net.IP) {
	if ip == nil {
		w.WriteOptString(nil)
		return
	}
	s := ip.String()
	w.WriteOptString(&s)
}

// DecodeNode is the inverse of EncodeNode.
func DecodeNode(r *Reader) (*enode.Node, error) {
	idStr, err := r.ReadOptString()
	if err != nil {
		return nil, err
	}
	ipv4Str, err := r.ReadOptString()
	if err != nil {
		return nil, err
	}
	ipv6Str, err := r.ReadOptString()
	if err != nil {
		return nil, err
	}
	port, err := r.ReadI32()
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
	n := &enode.Node{
		NetworkID:      netID,
		NetworkVersion: netVer,
	}
	if port < 0 || port > 65535 {
		return nil, ErrMalformed
	}
	n.Endpoint.Port = uint16(port)
	if ipv4Str != nil {
		ip := net.ParseIP(*ipv4Str)
		if ip == nil {
			return nil, ErrMalformed
		}
		n.Endpoint.IPv4 = ip.To4()
	}
	if ipv6Str != nil {
		ip := net.ParseIP(*ipv6Str)
		if ip == nil {
			return nil, ErrMalformed
		}
		n.Endpoint.IPv6 = ip.To16()
	}
	if idStr != nil {
		raw, err := decodeHexID(*idStr)
		if err != nil {
			return nil, err
		}
		n.ID = raw
		n.HasID = true
	}
	return n, nil
}

func decodeHexID(s string) (enode.ID, error) {
	var id enode.ID
	if len(s) != enode.IDLength*2 {
		return id, enode.ErrBadIDLength
	}
	for i := 0; i < enode.IDLength; i++ {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])
		if !ok1 || !ok2 {
			return id, ErrMalformed
		}
		id[i] = hi<<4 | lo
	}
	return id, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
