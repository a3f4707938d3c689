package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/observability"
)

// PeerStatus is a read-only snapshot of one peer record.
type PeerStatus struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
	Alive    bool      `json:"alive"`
}

type peerRecord struct {
	addr     string
	lastSeen time.Time
	alive    bool
}

// PeerTable is the single process-wide view of mesh peers. All mutation goes
// through its one RWMutex so concurrent rounds never observe torn peer state.
// The configured set is fixed at construction (plus explicit Add calls) and
// defines the quorum denominator; liveness only tracks reachability.
//
// Peers are records keyed by node id; relations are lookups into this table,
// never owning references, so a cyclic mesh topology stays cycle-free in
// memory.
type PeerTable struct {
	mu     sync.RWMutex
	self   string
	window time.Duration
	peers  map[string]*peerRecord
}

// NewPeerTable creates a table for the given node. The liveness window
// bounds how stale a peer's last-seen time may be before it is excluded from
// solicitation.
func NewPeerTable(self string, window time.Duration) *PeerTable {
	return &PeerTable{self: self, window: window, peers: make(map[string]*peerRecord)}
}

// Self returns this node's id.
func (t *PeerTable) Self() string { return t.self }

// Add registers a configured peer. Adding an existing id updates its address
// without resetting liveness. The local node needs no Add; it is always part
// of the configured set.
func (t *PeerTable) Add(id, addr string) {
	if id == t.self {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.peers[id]; ok {
		rec.addr = addr
		return
	}
	t.peers[id] = &peerRecord{addr: addr}
}

// Observe records that the peer was heard from just now, reviving it if it
// was marked dead. Unknown ids are ignored; membership is configuration, not
// gossip.
func (t *PeerTable) Observe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.peers[id]; ok {
		rec.lastSeen = time.Now()
		rec.alive = true
	}
	t.updateGaugeLocked()
}

// MarkDead flags a peer as unreachable regardless of its last-seen time.
func (t *PeerTable) MarkDead(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.peers[id]; ok {
		rec.alive = false
	}
	t.updateGaugeLocked()
}

// Addr returns the transport address of a configured peer.
func (t *PeerTable) Addr(id string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.peers[id]
	if !ok {
		return "", false
	}
	return rec.addr, true
}

// ConfiguredPeers implements consensus.PeerView: every configured node id
// including self, sorted for determinism.
func (t *PeerTable) ConfiguredPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.peers)+1)
	ids = append(ids, t.self)
	for id := range t.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LivePeers implements consensus.PeerView: self plus every peer heard from
// within the liveness window and not marked dead.
func (t *PeerTable) LivePeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := time.Now().Add(-t.window)
	ids := []string{t.self}
	for id, rec := range t.peers {
		if rec.alive && rec.lastSeen.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of all peer records for status reporting.
func (t *PeerTable) Snapshot() []PeerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerStatus, 0, len(t.peers))
	for id, rec := range t.peers {
		out = append(out, PeerStatus{ID: id, Addr: rec.addr, LastSeen: rec.lastSeen, Alive: rec.alive})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *PeerTable) updateGaugeLocked() {
	cutoff := time.Now().Add(-t.window)
	live := 0
	for _, rec := range t.peers {
		if rec.alive && rec.lastSeen.After(cutoff) {
			live++
		}
	}
	observability.MeshPeers.Set(float64(live))
}
