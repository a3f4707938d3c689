// Package mesh provides the process-wide node runtime: it wires a node's
// identity, its peer table and both engines (orchestration and consensus)
// together, and exposes the operations the external transport layer calls
// into. The peer table and the node's term counter are the only shared
// mutable state; each has its own synchronization point.
package mesh

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/backend"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/consensus"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/logging"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/orchestrator"
)

// AcceptorFunc decides this node's vote on a remote proposal. The returned
// reason is recorded only on rejection.
type AcceptorFunc func(p core.Proposal) (accept bool, reason string)

// AcceptAll is the default acceptor: every well-formed proposal is accepted.
func AcceptAll(core.Proposal) (bool, string) { return true, "" }

// Options configures a Node.
type Options struct {
	// ID is the node's unique identity in the mesh. Required.
	ID string

	// LivenessWindow bounds peer staleness for solicitation.
	LivenessWindow time.Duration

	// RoundTimeout bounds consensus rounds started by this node.
	RoundTimeout time.Duration

	// Transport delivers vote solicitations to peers.
	Transport consensus.Transport

	// Backends are the model backends available for dispatch.
	Backends []backend.Backend

	// Orchestrator overrides the default orchestrator.
	Orchestrator *orchestrator.Orchestrator

	// Acceptor decides votes on remote proposals. Defaults to AcceptAll.
	Acceptor AcceptorFunc

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Node is the runtime context of one mesh participant.
type Node struct {
	id       string
	term     atomic.Uint64
	peers    *PeerTable
	engine   *consensus.Engine
	orch     *orchestrator.Orchestrator
	backends []backend.Backend
	acceptor AcceptorFunc
	logger   logging.Logger
}

// NewNode wires a node runtime from the options.
func NewNode(optFns ...func(o *Options)) *Node {
	opts := Options{
		LivenessWindow: 15 * time.Second,
		RoundTimeout:   5 * time.Second,
		Acceptor:       AcceptAll,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Acceptor == nil {
		opts.Acceptor = AcceptAll
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	peers := NewPeerTable(opts.ID, opts.LivenessWindow)

	orch := opts.Orchestrator
	if orch == nil {
		orch = orchestrator.New(func(o *orchestrator.Options) {
			o.Logger = opts.Logger
		})
	}

	engine := consensus.NewEngine(func(o *consensus.Options) {
		o.Self = opts.ID
		o.Peers = peers
		o.Transport = opts.Transport
		o.RoundTimeout = opts.RoundTimeout
		o.Logger = opts.Logger
	})

	return &Node{
		id:       opts.ID,
		peers:    peers,
		engine:   engine,
		orch:     orch,
		backends: opts.Backends,
		acceptor: opts.Acceptor,
		logger:   opts.Logger,
	}
}

// ID returns the node's identity.
func (n *Node) ID() string { return n.id }

// Peers exposes the node's peer table.
func (n *Node) Peers() *PeerTable { return n.peers }

// Engine exposes the consensus engine (for transports pushing votes).
func (n *Node) Engine() *consensus.Engine { return n.engine }

// CurrentTerm returns the node's monotonic term counter.
func (n *Node) CurrentTerm() uint64 { return n.term.Load() }

// NextTerm advances and returns the term counter. Terms never decrease.
func (n *Node) NextTerm() uint64 { return n.term.Add(1) }

// ObserveTerm raises the local term to at least t without ever lowering it.
func (n *Node) ObserveTerm(t uint64) {
	for {
		cur := n.term.Load()
		if t <= cur || n.term.CompareAndSwap(cur, t) {
			return
		}
	}
}

// DispatchTask fans the task out across this node's backends and returns the
// fused result.
func (n *Node) DispatchTask(ctx context.Context, task core.Task) (core.FusedResult, error) {
	return n.orch.Dispatch(ctx, task, n.backends)
}

// SubmitProposal creates a proposal in a fresh term and runs a consensus
// round for it, returning the proposal and its terminal outcome.
func (n *Node) SubmitProposal(ctx context.Context, payload json.RawMessage) (core.Proposal, core.Outcome, error) {
	p := core.NewProposal(n.id, n.NextTerm(), payload)
	outcome, err := n.engine.Propose(ctx, p)
	if err != nil {
		return p, outcome, err
	}
	return p, outcome, nil
}

// ReceiveVote applies a vote pushed by a peer. The voter is observed as live,
// and a newer term advances this node's term counter.
func (n *Node) ReceiveVote(v core.Vote) error {
	n.peers.Observe(v.Voter)
	n.ObserveTerm(v.Term)
	return n.engine.ReceiveVote(v)
}

// HandleVoteRequest produces this node's vote on a proposal arriving from a
// remote proposer. The proposer is observed as live and its term adopted if
// newer.
func (n *Node) HandleVoteRequest(_ context.Context, p core.Proposal) (core.Vote, error) {
	if err := p.Validate(); err != nil {
		return core.Vote{}, err
	}
	n.peers.Observe(p.Proposer)
	n.ObserveTerm(p.Term)

	accept, reason := n.acceptor(p)
	vote := core.Vote{ProposalID: p.ID, Voter: n.id, Term: p.Term, Accept: accept}
	if !accept {
		vote.Reason = reason
	}
	n.logger.Debug("voting on proposal", "proposal_id", p.ID, "proposer", p.Proposer, "term", p.Term, "accept", accept)
	return vote, nil
}

// Tally reports the outcome of a round known to this node.
func (n *Node) Tally(proposalID string) (core.Outcome, error) {
	return n.engine.Tally(proposalID)
}
