package discover

import (
	"sync"
	"time"

	"github.com/corenet/p2p/enode"
)

// PeerState is the bonding state machine described in spec.md §3/§4.2.
type PeerState int

const (
	StateDiscovered PeerState = iota
	StatePingSent
	StateAlive
	StateEvictCandidate
	StateDead
)

func (s PeerState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StatePingSent:
		return "ping-sent"
	case StateAlive:
		return "alive"
	case StateEvictCandidate:
		return "evict-candidate"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// NodeHandler owns the bonding state for a single remote endpoint. All
// mutation goes through its mutex so that discovery events for this peer are
// processed serially, per spec.md §4.2 "Ordering guarantees" and §5.
type NodeHandler struct {
	mu sync.Mutex

	node  *enode.Node
	state PeerState

	lastPingSent      time.Time
	lastPongReceived  time.Time
	lastFindNodeSent  time.Time
	pendingFindTarget enode.ID
	deadUntil         time.Time

	// set only when this handler is the incumbent in an eviction contest;
	// cleared on resolution.
	evictionCandidate *enode.Node
	evictSentAt       time.Time
}

func newNodeHandler(node *enode.Node) *NodeHandler {
	return &NodeHandler{node: node, state: StateDiscovered}
}

func (h *NodeHandler) State() PeerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// markPingSent transitions Discovered/Dead -> PingSent.
func (h *NodeHandler) markPingSent(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StatePingSent
	h.lastPingSent = now
}

// onPong processes a KAD_PONG and returns whether the peer is now (or
// remains) alive. A pong that arrives during an eviction contest keeps the
// incumbent and clears its pending candidate.
func (h *NodeHandler) onPong(networkID byte, networkVersion int16, cfg *Config, now time.Time) (alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if networkID != cfg.NetworkID || networkVersion != cfg.NetworkVersion {
		h.state = StateDead
		h.deadUntil = now.Add(cfg.RetryCooldown)
		return false
	}

	switch h.state {
	case StatePingSent, StateEvictCandidate, StateAlive, StateDiscovered:
		h.state = StateAlive
		h.lastPongReceived = now
		h.evictionCandidate = nil
		return true
	default:
		return false
	}
}

// checkTimeout evaluates timers and returns the state transition that
// occurred, if any, along with the waiting candidate node when an eviction
// contest timed out in the candidate's favor.
type timeoutResult struct {
	becameDead     bool
	evictionLapsed bool // incumbent timed out; candidate should be inserted
	candidate      *enode.Node
}

func (h *NodeHandler) checkTimeout(cfg *Config, now time.Time) timeoutResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StatePingSent:
		if now.Sub(h.lastPingSent) > cfg.PingTimeout {
			h.state = StateDead
			h.deadUntil = now.Add(cfg.RetryCooldown)
			return timeoutResult{becameDead: true}
		}
	case StateEvictCandidate:
		if now.Sub(h.evictSentAt) > cfg.EvictTimeout {
			cand := h.evictionCandidate
			h.state = StateDead
			h.evictionCandidate = nil
			return timeoutResult{evictionLapsed: true, candidate: cand}
		}
	}
	return timeoutResult{}
}

// beginEviction moves an Alive incumbent into EvictCandidate while a fresh
// ping is sent to confirm it is still live (spec.md §4.2).
func (h *NodeHandler) beginEviction(candidate *enode.Node, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateAlive {
		return
	}
	h.state = StateEvictCandidate
	h.evictionCandidate = candidate
	h.evictSentAt = now
}

func (h *NodeHandler) inRetryGrace(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateDead && now.Before(h.deadUntil)
}

func (h *NodeHandler) markFindNodeSent(target enode.ID, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFindNodeSent = now
	h.pendingFindTarget = target
}

// acceptsNeighborsReply rejects stale responses: ones whose timestamp
// predates the most recent FIND_NODE request, or that arrive after the
// handler has already gone Dead (spec.md §4.2 "Ordering guarantees").
func (h *NodeHandler) acceptsNeighborsReply(respTimestamp int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDead {
		return false
	}
	return respTimestamp >= h.lastFindNodeSent.Unix()
}
