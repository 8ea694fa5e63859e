package enode

import "time"

// Node is a peer as known to the discovery subsystem. See spec.md §3.
type Node struct {
	ID             ID
	HasID          bool
	Endpoint       Endpoint
	NetworkID      byte
	NetworkVersion int16
	LastUpdate     time.Time
	Seq            uint64 // monotonic, bumped by Touch (SPEC_FULL §Supplemented)
}

// Touch bumps Seq and LastUpdate to record a fresher observation of the same
// node. Other field changes leave Seq as it is.
func (n *Node) Touch(now time.Time) {
	n.Seq++
	n.LastUpdate = now
}

// SameEndpoint reports whether two nodes describe the same reachable
// endpoint, independent of ID — used for NodeEntry equality (spec.md §3).
func (n *Node) SameEndpoint(o *Node) bool {
	if n.Endpoint.Port != o.Endpoint.Port {
		return false
	}
	a, b := n.Endpoint.PreferredIP(), o.Endpoint.PreferredIP()
	if a == nil || b == nil {
		return false
	}
	return a.Equal(b)
}

// Valid reports the spec.md §3 Node invariants.
func (n *Node) Valid() bool {
	if !n.Endpoint.Valid() {
		return false
	}
	if n.HasID {
		return true // ID type already fixes length at 20 bytes
	}
	return true
}
