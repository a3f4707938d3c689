// Package kenpire provides a high-level façade over the mesh node runtime and
// its engines (orchestration, consensus, smart-card cache) enabling one-call
// construction of a fully wired node. Most applications interact with this
// package by:
//  1. Creating a Mesh via New() (optionally overriding backends, peers, stores)
//  2. Dispatching tasks across the configured model backends
//  3. Submitting proposals for mesh-wide agreement
//
// All defaults are safe for local development and testing; production
// deployments supply real provider backends, a peer set and a structured
// logger.
package kenpire

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/consensus"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/mesh"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/orchestrator"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/smartcard"
)

// Peer names one configured mesh peer.
type Peer struct {
	ID   string
	Addr string
}

// Options configures the Mesh instance.
type Options struct {
	// NodeID identifies this node. Defaults to "node-1".
	NodeID string

	// Peers is the configured peer set; it defines the quorum denominator.
	Peers []Peer

	// Backends are the model backends used for dispatch. Defaults to a
	// single mock backend suitable for local development.
	Backends []backend.Backend

	// Transport delivers vote solicitations. Nil is fine for a standalone
	// node that never proposes to peers.
	Transport consensus.Transport

	// Cards is the TTL cache for fused-result references. Defaults to an
	// in-memory store.
	Cards core.CardStore

	// LivenessWindow and RoundTimeout tune the consensus engine.
	LivenessWindow time.Duration
	RoundTimeout   time.Duration

	// SafetyMargin, RetryDelay and CacheTTL tune the orchestrator. Zero
	// values keep the orchestrator defaults.
	SafetyMargin time.Duration
	RetryDelay   time.Duration
	CacheTTL     time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the node runtime and its services.
type Mesh struct {
	opts  Options
	node  *mesh.Node
	cards core.CardStore
}

// New creates a Mesh instance with optional overrides. Any unset service is
// initialized with an in-memory or mock implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		NodeID:         "node-1",
		LivenessWindow: 15 * time.Second,
		RoundTimeout:   5 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Cards == nil {
		opts.Cards = smartcard.NewInMemoryStore()
	}
	if len(opts.Backends) == 0 {
		opts.Backends = []backend.Backend{backend.NewMockBackend("mock-1")}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	orch := orchestrator.New(func(o *orchestrator.Options) {
		o.Cards = opts.Cards
		o.Logger = opts.Logger
		if opts.SafetyMargin > 0 {
			o.SafetyMargin = opts.SafetyMargin
		}
		if opts.RetryDelay > 0 {
			o.RetryDelay = opts.RetryDelay
		}
		if opts.CacheTTL > 0 {
			o.CacheTTL = opts.CacheTTL
		}
	})

	node := mesh.NewNode(func(o *mesh.Options) {
		o.ID = opts.NodeID
		o.LivenessWindow = opts.LivenessWindow
		o.RoundTimeout = opts.RoundTimeout
		o.Transport = opts.Transport
		o.Backends = opts.Backends
		o.Orchestrator = orch
		o.Logger = opts.Logger
	})
	for _, p := range opts.Peers {
		node.Peers().Add(p.ID, p.Addr)
	}

	return &Mesh{opts: opts, node: node, cards: opts.Cards}
}

// Node exposes the underlying node runtime (for transports and servers).
func (m *Mesh) Node() *mesh.Node { return m.node }

// Cards exposes the smart-card store.
func (m *Mesh) Cards() core.CardStore { return m.cards }

// DispatchTask fans a task out across the configured backends and returns the
// fused result.
func (m *Mesh) DispatchTask(ctx context.Context, task core.Task) (core.FusedResult, error) {
	return m.node.DispatchTask(ctx, task)
}

// SubmitProposal runs a consensus round for the payload and returns the
// proposal together with its terminal outcome.
func (m *Mesh) SubmitProposal(ctx context.Context, payload json.RawMessage) (core.Proposal, core.Outcome, error) {
	return m.node.SubmitProposal(ctx, payload)
}

// Tally reports the outcome of a known round; repeated calls on a terminal
// round always return the same outcome.
func (m *Mesh) Tally(proposalID string) (core.Outcome, error) {
	return m.node.Tally(proposalID)
}
