package consensus

import (
	"context"
	"math"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
)

// Transport delivers a proposal to one peer and collects that peer's vote.
// Implementations live at the transport boundary (HTTP, RPC); the engine only
// requires request/response semantics bounded by ctx.
type Transport interface {
	RequestVote(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error)

// RequestVote implements Transport.
func (f TransportFunc) RequestVote(ctx context.Context, peerID string, p core.Proposal) (core.Vote, error) {
	return f(ctx, peerID, p)
}

// PeerView is the engine's read-only window onto the mesh peer table. The
// configured set defines the quorum denominator; the live set limits which
// peers are actually solicited.
type PeerView interface {
	// ConfiguredPeers returns every node id in the mesh configuration,
	// including this node.
	ConfiguredPeers() []string

	// LivePeers returns the node ids heard from within the liveness window,
	// including this node.
	LivePeers() []string
}

// backoffDelay returns the delay preceding retry attempt N (1-based),
// doubling from base up to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if max > 0 && d > max {
		d = max
	}
	return d
}
