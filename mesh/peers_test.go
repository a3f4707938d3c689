package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerTable_ConfiguredIncludesSelf(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Add("node-3", "10.0.0.3:8080")
	pt.Add("node-2", "10.0.0.2:8080")

	assert.Equal(t, []string{"node-1", "node-2", "node-3"}, pt.ConfiguredPeers())
}

func TestPeerTable_AddSelfIsNoOp(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Add("node-1", "10.0.0.1:8080")

	assert.Equal(t, []string{"node-1"}, pt.ConfiguredPeers())
}

func TestPeerTable_LivenessWindow(t *testing.T) {
	pt := NewPeerTable("node-1", 50*time.Millisecond)
	pt.Add("node-2", "10.0.0.2:8080")
	pt.Add("node-3", "10.0.0.3:8080")

	// Only self is live before any observation.
	assert.Equal(t, []string{"node-1"}, pt.LivePeers())

	pt.Observe("node-2")
	assert.Equal(t, []string{"node-1", "node-2"}, pt.LivePeers())

	// The observation ages out of the window.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{"node-1"}, pt.LivePeers())

	// Liveness never shrinks the configured set.
	assert.Equal(t, []string{"node-1", "node-2", "node-3"}, pt.ConfiguredPeers())
}

func TestPeerTable_MarkDeadAndRevive(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Add("node-2", "10.0.0.2:8080")

	pt.Observe("node-2")
	pt.MarkDead("node-2")
	assert.Equal(t, []string{"node-1"}, pt.LivePeers())

	// A fresh observation revives the peer.
	pt.Observe("node-2")
	assert.Equal(t, []string{"node-1", "node-2"}, pt.LivePeers())
}

func TestPeerTable_ObserveUnknownIgnored(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Observe("stranger")

	assert.Equal(t, []string{"node-1"}, pt.ConfiguredPeers())
	assert.Equal(t, []string{"node-1"}, pt.LivePeers())
}

func TestPeerTable_AddrAndReAdd(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Add("node-2", "10.0.0.2:8080")
	pt.Observe("node-2")

	addr, ok := pt.Addr("node-2")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2:8080", addr)

	// Re-adding updates the address without resetting liveness.
	pt.Add("node-2", "10.0.0.2:9090")
	addr, _ = pt.Addr("node-2")
	assert.Equal(t, "10.0.0.2:9090", addr)
	assert.Contains(t, pt.LivePeers(), "node-2")

	_, ok = pt.Addr("nope")
	assert.False(t, ok)
}

func TestPeerTable_Snapshot(t *testing.T) {
	pt := NewPeerTable("node-1", time.Minute)
	pt.Add("node-3", "10.0.0.3:8080")
	pt.Add("node-2", "10.0.0.2:8080")
	pt.Observe("node-2")

	snap := pt.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "node-2", snap[0].ID)
	assert.True(t, snap[0].Alive)
	assert.Equal(t, "node-3", snap[1].ID)
	assert.False(t, snap[1].Alive)
}
